package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"marginalia/api/internal/anchoring"
	"marginalia/api/internal/config"
	"marginalia/api/internal/query"
	"marginalia/api/internal/realtime"
	"marginalia/api/internal/search"
	"marginalia/api/internal/store"
	"marginalia/api/internal/thread"
	"marginalia/api/internal/util"
	"marginalia/api/internal/viewport"
)

type dataStore interface {
	ListAnnotations(context.Context, string) ([]store.Annotation, error)
	UpsertAnnotation(context.Context, store.Annotation) error
	DeleteAnnotation(context.Context, string) (bool, error)
	Ping(context.Context) error
}

// publisher fans local changes out to other consumers of the push channel.
type publisher interface {
	Publish(context.Context, realtime.Message) error
}

// Selection is the user's explicit thread selection state.
type Selection struct {
	Selected      []string        `json:"selected"`
	ForcedVisible []string        `json:"forcedVisible"`
	Expanded      map[string]bool `json:"expanded"`
}

// FilterState describes the active filters.
type FilterState struct {
	Query       string            `json:"query"`
	FocusActive bool              `json:"focusActive"`
	Focus       *config.FocusUser `json:"focus,omitempty"`
	Spec        query.Spec        `json:"spec"`
}

// ThreadsView is the projection served to the sidebar.
type ThreadsView struct {
	Threads      []thread.View    `json:"threads"`
	VisibleCount int              `json:"visibleCount"`
	Sort         string           `json:"sort"`
	Filter       FilterState      `json:"filter"`
	FocusedGroup string           `json:"focusedGroup"`
	Pending      realtime.Pending `json:"pending"`
}

// ViewportInput carries scroll geometry and newly measured heights.
type ViewportInput struct {
	ScrollTop      float64            `json:"scrollTop"`
	ViewportHeight float64            `json:"viewportHeight"`
	Heights        map[string]float64 `json:"heights"`
}

// Service owns the live collection, the pending-update queue and the
// filter, selection and sort state. Every change goes through one of its
// methods under mu; readers get copies.
type Service struct {
	cfg       config.Config
	store     dataStore
	search    *search.Service
	publisher publisher
	focus     config.Focus
	now       func() time.Time
	// origin stamps published messages; their echoes are ignored.
	origin string

	mu           sync.Mutex
	live         *realtime.Collection
	queue        *realtime.Queue
	focusedGroup string
	queryText    string
	filter       query.Spec
	focusActive  bool
	selection    Selection
	sortKey      thread.SortKey
	heights      map[string]float64
	// While a group loads, pushed batches wait in deferred. loadSeq tells
	// overlapping switches apart.
	loading  bool
	loadSeq  uint64
	deferred []realtime.Batch

	memo        thread.Memo
	diagnostics *thread.Diagnostics
	anchoring   *anchoring.Coalescer
}

func New(cfg config.Config, dataStore dataStore, searchService *search.Service, focus config.Focus) *Service {
	s := &Service{
		cfg:          cfg,
		store:        dataStore,
		search:       searchService,
		focus:        focus,
		now:          time.Now,
		origin:       uuid.NewString(),
		live:         realtime.NewCollection(nil),
		queue:        realtime.NewQueue(),
		focusedGroup: cfg.DefaultGroup,
		filter:       query.NewSpec(),
		focusActive:  focus.Configured(),
		heights:      map[string]float64{},
		diagnostics:  thread.NewDiagnostics(nil),
	}
	s.anchoring = anchoring.NewCoalescer(cfg.AnchorCoalesceWindow, s.applyAnchoring)
	if s.search == nil {
		s.search = search.NewService(nil, search.NewLocal(s.Snapshot))
	}
	return s
}

// SetPublisher enables fan-out of local saves and deletes.
func (s *Service) SetPublisher(p publisher) {
	s.publisher = p
}

// Close drops any anchoring reports that have not been flushed.
func (s *Service) Close() {
	s.anchoring.Cancel()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap loads the default group.
func (s *Service) Bootstrap(ctx context.Context) error {
	return s.FocusGroup(ctx, s.cfg.DefaultGroup)
}

// FocusGroup switches the active group. Buffered remote changes referred to
// the previous group and are discarded before the new group loads; changes
// pushed while it loads are merged once the new collection is in place.
func (s *Service) FocusGroup(ctx context.Context, groupID string) error {
	s.mu.Lock()
	s.queue.Clear()
	s.focusedGroup = groupID
	s.selection = Selection{}
	s.heights = map[string]float64{}
	s.loading = true
	s.loadSeq++
	seq := s.loadSeq
	s.deferred = nil
	s.recordPending()
	s.mu.Unlock()
	s.anchoring.Cancel()
	s.diagnostics.Reset()

	annotations, err := s.store.ListAnnotations(ctx, groupID)

	s.mu.Lock()
	if s.loadSeq != seq {
		// Another switch won the race; its load owns the collection.
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("load group %q: %w", groupID, err)
		}
		return nil
	}
	if err == nil {
		s.live.Replace(annotations)
	}
	s.loading = false
	deferred := s.deferred
	s.deferred = nil
	for _, batch := range deferred {
		s.receiveLocked(batch)
	}
	s.recordPending()
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("load group %q: %w", groupID, err)
	}
	log.Printf("app: focused group %q with %d annotations", groupID, len(annotations))
	s.search.ReindexAll(annotations)
	return nil
}

func (s *Service) FocusedGroup() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focusedGroup
}

// SetQuery replaces the ad hoc query.
func (s *Service) SetQuery(text string) FilterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryText = text
	s.filter = query.Parse(text)
	return s.filterStateLocked()
}

// SetFocusActive toggles the startup focus filter.
func (s *Service) SetFocusActive(active bool) (FilterState, error) {
	if active && !s.focus.Configured() {
		return FilterState{}, domainError(http.StatusConflict, "FOCUS_NOT_CONFIGURED", "No focus filter configured", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focusActive = active
	return s.filterStateLocked(), nil
}

func (s *Service) filterStateLocked() FilterState {
	state := FilterState{
		Query:       s.queryText,
		FocusActive: s.focusActive,
		Spec:        s.effectiveFilterLocked(),
	}
	if s.focus.Configured() {
		user := *s.focus.User
		state.Focus = &user
	}
	return state
}

func (s *Service) effectiveFilterLocked() query.Spec {
	if s.focusActive && s.focus.Configured() {
		return s.filter.WithFocusUser(s.focus.User.Value)
	}
	return s.filter.Clone()
}

func (s *Service) SetSort(key string) (thread.SortKey, error) {
	parsed, err := thread.ParseSortKey(key)
	if err != nil {
		return 0, badRequest("INVALID_SORT", err.Error(), map[string]any{"allowed": []string{"Newest", "Oldest", "Location"}})
	}
	s.mu.Lock()
	s.sortKey = parsed
	s.mu.Unlock()
	return parsed, nil
}

func (s *Service) SetSelection(selection Selection) Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = Selection{
		Selected:      append([]string(nil), selection.Selected...),
		ForcedVisible: append([]string(nil), selection.ForcedVisible...),
		Expanded:      copyExpanded(selection.Expanded),
	}
	return s.selection
}

// SetExpanded records a single collapse toggle.
func (s *Service) SetExpanded(id string, expanded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := copyExpanded(s.selection.Expanded)
	if next == nil {
		next = map[string]bool{}
	}
	next[id] = expanded
	s.selection.Expanded = next
}

func copyExpanded(in map[string]bool) map[string]bool {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// CreateDraft adds an unsaved annotation to the live collection under a
// local tag.
func (s *Service) CreateDraft(input store.Annotation) (store.Annotation, error) {
	input.ID = ""
	if strings.TrimSpace(input.LocalTag) == "" {
		input.LocalTag = util.NewLocalTag()
	}
	s.prepare(&input)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.Add(input)
	return input, nil
}

// SaveAnnotation persists a local create or edit. The saved record replaces
// any draft with the same local tag and supersedes pending remote changes
// for its id.
func (s *Service) SaveAnnotation(ctx context.Context, input store.Annotation) (store.Annotation, error) {
	created := input.ID == ""
	if created {
		input.ID = util.NewID("an")
	}
	s.prepare(&input)
	input.Updated = s.now().UTC()

	if err := s.store.UpsertAnnotation(ctx, input); err != nil {
		return store.Annotation{}, fmt.Errorf("save annotation: %w", err)
	}

	s.mu.Lock()
	s.live.Add(input)
	s.queue.Discard(input.ID)
	s.recordPending()
	s.mu.Unlock()

	msgType := realtime.MessageUpdate
	if created {
		msgType = realtime.MessageCreate
	}
	s.publish(ctx, realtime.Message{Type: msgType, Records: []store.Annotation{input}})
	s.search.IndexAnnotation(input)
	return input, nil
}

func (s *Service) prepare(a *store.Annotation) {
	now := s.now().UTC()
	if a.Created.IsZero() {
		a.Created = now
	}
	if a.Updated.IsZero() {
		a.Updated = a.Created
	}
	if a.Group == "" {
		a.Group = s.FocusedGroup()
	}
	if a.AnchorStatus == "" {
		a.AnchorStatus = store.AnchorPending
	}
}

// DeleteAnnotation removes an annotation locally and from the store. Drafts
// only exist locally.
func (s *Service) DeleteAnnotation(ctx context.Context, id string) error {
	s.mu.Lock()
	if existing, ok := s.live.Get(id); ok && existing.ID == "" {
		s.live.Remove(id)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	found, err := s.store.DeleteAnnotation(ctx, id)
	if err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}

	s.mu.Lock()
	live := s.live.Remove(id) > 0
	s.queue.Discard(id)
	s.recordPending()
	s.mu.Unlock()

	if !found && !live {
		return notFound("ANNOTATION_NOT_FOUND", "Annotation not found", id)
	}
	s.publish(ctx, realtime.Message{Type: realtime.MessageDelete, Records: []store.Annotation{{ID: id}}})
	s.search.DeleteAnnotation(id)
	return nil
}

func (s *Service) publish(ctx context.Context, msg realtime.Message) {
	if s.publisher == nil {
		return
	}
	msg.Origin = s.origin
	if err := s.publisher.Publish(ctx, msg); err != nil {
		log.Printf("app: publish %s: %v", msg.Type, err)
	}
}

// ReceiveMessage merges one pushed message into the queue. Echoes of this
// service's own publications are dropped; the local change already won.
func (s *Service) ReceiveMessage(msg realtime.Message) {
	if msg.From(s.origin) {
		return
	}
	realtimeMessages.WithLabelValues(string(msg.Type)).Inc()
	batch := realtime.BatchOf(msg)
	if batch.Empty() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading {
		s.deferred = append(s.deferred, batch)
		return
	}
	s.receiveLocked(batch)
	s.recordPending()
}

func (s *Service) receiveLocked(batch realtime.Batch) {
	ctx := realtime.Context{FocusedGroup: s.focusedGroup, ShowCrossGroup: s.cfg.ShowCrossGroupUpdates}
	s.queue.Receive(batch, ctx, s.live.Exists)
	if s.cfg.ApplyImmediately {
		s.queue.ApplyTo(s.live)
	}
}

// ApplyPending moves every buffered change into the live collection.
func (s *Service) ApplyPending() (updated, deleted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated, deleted = s.queue.ApplyTo(s.live)
	s.recordPending()
	return updated, deleted
}

func (s *Service) Pending() realtime.Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Pending()
}

func (s *Service) recordPending() {
	pendingUpdates.Set(float64(s.queue.UpdateCount()))
	pendingDeletions.Set(float64(s.queue.DeletionCount()))
}

// ReportAnchoring schedules anchoring results; they reach the collection as
// one change once the coalescing window passes.
func (s *Service) ReportAnchoring(statuses map[string]string) error {
	parsed := make(map[string]store.AnchorStatus, len(statuses))
	for id, value := range statuses {
		status, ok := store.NormalizeAnchorStatus(value)
		if !ok {
			return badRequest("INVALID_ANCHOR_STATUS", "Unknown anchoring status", map[string]any{"id": id, "status": value})
		}
		parsed[id] = status
	}
	s.anchoring.ReportAll(parsed)
	return nil
}

// FlushAnchoring applies pending anchoring reports without waiting.
func (s *Service) FlushAnchoring() {
	s.anchoring.Flush()
}

func (s *Service) applyAnchoring(statuses map[string]store.AnchorStatus) {
	s.mu.Lock()
	changed := s.live.SetAnchorStatus(statuses)
	s.mu.Unlock()
	anchoringFlushes.Inc()
	if changed > 0 {
		log.Printf("app: anchoring updated %d annotations", changed)
	}
}

// Snapshot returns a copy of the live collection.
func (s *Service) Snapshot() []store.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.Snapshot()
}

// Threads builds the current projection.
func (s *Service) Threads() ThreadsView {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree := s.treeLocked()
	return ThreadsView{
		Threads:      tree.Views(),
		VisibleCount: tree.CountVisible(thread.RootHandle),
		Sort:         s.sortKey.String(),
		Filter:       s.filterStateLocked(),
		FocusedGroup: s.focusedGroup,
		Pending:      s.queue.Pending(),
	}
}

func (s *Service) treeLocked() *thread.Tree {
	started := time.Now()
	defer func() { buildDuration.Observe(time.Since(started).Seconds()) }()

	opts := thread.Options{
		Filter:        s.effectiveFilterLocked(),
		Now:           s.now(),
		Selected:      s.selection.Selected,
		ForcedVisible: s.selection.ForcedVisible,
		Expanded:      s.selection.Expanded,
		Sort:          s.sortKey,
		Diagnostics:   s.diagnostics,
	}
	return s.memo.Build(s.live.Version(), s.live.Snapshot(), opts)
}

// Viewport records measured heights and returns the top-level threads to
// render for the given scroll position.
func (s *Service) Viewport(input ViewportInput) viewport.Window[thread.View] {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range input.Heights {
		s.heights[id] = h
	}
	dims := viewport.Dimensions{
		DefaultHeight: s.cfg.ThreadDefaultHeight,
		MarginAbove:   s.cfg.ThreadMarginAbove,
		MarginBelow:   s.cfg.ThreadMarginBelow,
	}
	if dims.DefaultHeight <= 0 {
		dims = viewport.DefaultDimensions()
	}
	threads := s.treeLocked().Views()
	return viewport.Calculate(threads, func(v thread.View) string { return v.ID }, s.heights, input.ScrollTop, input.ViewportHeight, dims)
}

// ScrollOffset returns where the given top-level thread starts.
func (s *Service) ScrollOffset(id string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dims := viewport.DefaultDimensions()
	if s.cfg.ThreadDefaultHeight > 0 {
		dims.DefaultHeight = s.cfg.ThreadDefaultHeight
	}
	threads := s.treeLocked().Views()
	offset, ok := viewport.OffsetOf(threads, func(v thread.View) string { return v.ID }, id, s.heights, dims)
	if !ok {
		return 0, notFound("THREAD_NOT_FOUND", "Thread not found", id)
	}
	return offset, nil
}

func (s *Service) Search(q search.Query) search.Response {
	if q.Now.IsZero() {
		q.Now = s.now()
	}
	return s.search.Search(q)
}

// DiagnosticsCount reports how many distinct malformed references were seen.
func (s *Service) DiagnosticsCount() int {
	return s.diagnostics.Count()
}
