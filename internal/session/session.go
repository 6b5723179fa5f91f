package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// TypeDisplaced is the queue message type for displaced sessions.
const TypeDisplaced = "session.displaced"

// DisplacedEvent tells the worker which session a login pushed out.
type DisplacedEvent struct {
	AccountID string `json:"account_id"`
	OldToken  string `json:"old_token"`
	NewToken  string `json:"new_token"`
}

// Encode marshals the event for the queue body.
func (e DisplacedEvent) Encode() []byte {
	b, _ := json.Marshal(e)
	return b
}

// DecodeDisplaced parses a queue body back into an event.
func DecodeDisplaced(body []byte) (DisplacedEvent, error) {
	var e DisplacedEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return DisplacedEvent{}, err
	}
	if e.AccountID == "" {
		return DisplacedEvent{}, errors.New("displaced event missing account id")
	}
	return e, nil
}

// Registry keeps the single active session token per account in Redis
// and publishes every replacement on the account's channel.
type Registry struct {
	rdb *redis.Client
}

// NewRegistry creates a registry.
func NewRegistry(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

func sessionKey(accountID string) string  { return "presence:session:" + accountID }
func sessionChan(accountID string) string { return "presence:session-events:" + accountID }

// Replace installs token as the account's active session and returns the
// token it displaced, empty when none was active.
func (r *Registry) Replace(ctx context.Context, accountID, token string) (string, error) {
	old, err := r.rdb.GetSet(ctx, sessionKey(accountID), token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	payload, _ := json.Marshal(map[string]string{"token": token})
	if err := r.rdb.Publish(ctx, sessionChan(accountID), payload).Err(); err != nil {
		return "", err
	}
	if old == token {
		return "", nil
	}
	return old, nil
}

// Current returns the account's active session token, empty when none.
func (r *Registry) Current(ctx context.Context, accountID string) (string, error) {
	v, err := r.rdb.Get(ctx, sessionKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// Clear drops the active session, used when an account signs out cleanly.
func (r *Registry) Clear(ctx context.Context, accountID string) error {
	return r.rdb.Del(ctx, sessionKey(accountID)).Err()
}

// Watch subscribes to the account's session channel and signals once when
// the server-observed token diverges from localToken, meaning another
// device logged in and this session must force-sign-out. The channel is
// closed without a signal when ctx ends first.
func (r *Registry) Watch(ctx context.Context, accountID, localToken string) (<-chan struct{}, error) {
	sub := r.rdb.Subscribe(ctx, sessionChan(accountID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer sub.Close()

		// A login that happened before the subscription still counts.
		if current, err := r.Current(ctx, accountID); err == nil && current != "" && current != localToken {
			out <- struct{}{}
			return
		}

		msgs := sub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var payload struct {
					Token string `json:"token"`
				}
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					continue
				}
				if payload.Token != "" && payload.Token != localToken {
					out <- struct{}{}
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
