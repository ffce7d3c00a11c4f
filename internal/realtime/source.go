package realtime

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

// Source is an external push channel. Run delivers messages to handle until
// ctx is done or the channel fails; it does not retry.
type Source interface {
	Run(ctx context.Context, handle func(Message)) error
}

// WebSocketSource reads JSON messages from a streaming endpoint.
type WebSocketSource struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
}

func NewWebSocketSource(url string) *WebSocketSource {
	return &WebSocketSource{URL: url, Dialer: websocket.DefaultDialer}
}

func (s *WebSocketSource) Run(ctx context.Context, handle func(Message)) error {
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, s.URL, s.Header)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	log.Printf("realtime: connected to %s", s.URL)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			log.Printf("realtime: skip message: %v", err)
			continue
		}
		handle(msg)
	}
}

// RedisSource subscribes to a pub/sub channel carrying the same JSON
// messages as the stream.
type RedisSource struct {
	client  *redis.Client
	channel string
}

func NewRedisSource(redisURL, channel string) (*RedisSource, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisSourceWithClient(client, channel), nil
}

func NewRedisSourceWithClient(client *redis.Client, channel string) *RedisSource {
	return &RedisSource{client: client, channel: channel}
}

func (s *RedisSource) Run(ctx context.Context, handle func(Message)) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	// Receive blocks until the subscription is confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	log.Printf("realtime: subscribed to %s", s.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := DecodeMessage([]byte(payload.Payload))
			if err != nil {
				log.Printf("realtime: skip message: %v", err)
				continue
			}
			handle(msg)
		}
	}
}

// Publish sends msg to the channel. Used by writers that fan local saves
// out to other consumers.
func (s *RedisSource) Publish(ctx context.Context, msg Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", s.channel, err)
	}
	return nil
}

func (s *RedisSource) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSource) Close() error {
	return s.client.Close()
}
