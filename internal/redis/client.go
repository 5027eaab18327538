// Package redis backs the rule set with a Redis key, announces rule changes to
// other router instances and guards stable-study events against double handling.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/tidwall/jsonc"

	"dicom-router/internal/common/logging"
	"dicom-router/internal/common/utils"
	"dicom-router/internal/models"
	"dicom-router/internal/storage"
)

type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
	// RulesKey holds the rule documents as a JSON array
	RulesKey string `json:"rules_key"`
	// ChangesChannel carries rule change announcements
	ChangesChannel string `json:"changes_channel"`
	// ClaimPrefix is prepended to the study id of every event claim
	ClaimPrefix string `json:"claim_prefix"`
	// DedupWindow is how long a claimed study stays claimed
	DedupWindow time.Duration `json:"dedup_window"`
	// LockPrefix is prepended to the name of every distributed lock
	LockPrefix string `json:"lock_prefix"`
}

type Client struct {
	rdb        *redis.Client
	locks      *redsync.Redsync
	config     *Config
	instanceID string
	logger     logging.Logger
}

func NewClient(config *Config, logger logging.Logger) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}
	if config.RulesKey == "" {
		config.RulesKey = "dicom-router:rules"
	}
	if config.ChangesChannel == "" {
		config.ChangesChannel = "dicom-router:rules:changed"
	}
	if config.ClaimPrefix == "" {
		config.ClaimPrefix = "dicom-router:stable:"
	}
	if config.LockPrefix == "" {
		config.LockPrefix = "dicom-router:lock:"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	instanceID := utils.GenerateUUID()
	client := &Client{
		rdb:        rdb,
		config:     config,
		instanceID: instanceID,
		logger: logger.WithFields(
			logging.Field{Key: "component", Value: "redis"},
			logging.Field{Key: "instance_id", Value: instanceID},
		),
	}
	client.locks = newLocker(client)
	return client, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// InstanceID identifies this process in change announcements and event claims
func (c *Client) InstanceID() string {
	return c.instanceID
}

// LoadRules reads the rule documents stored under the rules key
func (c *Client) LoadRules(ctx context.Context) ([]models.RuleDocument, error) {
	data, err := c.rdb.Get(ctx, c.config.RulesKey).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrNoRules
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rules from %s: %w", c.config.RulesKey, err)
	}

	var docs []models.RuleDocument
	if err := json.Unmarshal(jsonc.ToJSON(data), &docs); err != nil {
		return nil, fmt.Errorf("failed to parse rules from %s: %w", c.config.RulesKey, err)
	}
	if docs == nil {
		docs = []models.RuleDocument{}
	}
	return docs, nil
}

// SaveRules replaces the stored documents with a single SET
func (c *Client) SaveRules(ctx context.Context, docs []models.RuleDocument) error {
	if docs == nil {
		docs = []models.RuleDocument{}
	}
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}
	if err := c.rdb.Set(ctx, c.config.RulesKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write rules to %s: %w", c.config.RulesKey, err)
	}
	return nil
}

// RulesChanged is the announcement published after a persisted replace
type RulesChanged struct {
	InstanceID string    `json:"instance_id"`
	Generation uint64    `json:"generation"`
	ChangedAt  time.Time `json:"changed_at"`
}

// PublishRulesChanged tells other instances to reload the rule set
func (c *Client) PublishRulesChanged(ctx context.Context, generation uint64) error {
	data, err := json.Marshal(RulesChanged{
		InstanceID: c.instanceID,
		Generation: generation,
		ChangedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal change announcement: %w", err)
	}
	return c.rdb.Publish(ctx, c.config.ChangesChannel, data).Err()
}

// ListenRulesChanged subscribes to change announcements from other instances and
// calls reload for each one. It returns once the subscription is active; the
// listener runs until ctx is done or the returned stop function is called.
func (c *Client) ListenRulesChanged(ctx context.Context, reload func(context.Context) error) (func(), error) {
	pubsub := c.rdb.Subscribe(ctx, c.config.ChangesChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", c.config.ChangesChannel, err)
	}

	listenCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	messages := pubsub.Channel()

	go func() {
		defer close(done)
		defer pubsub.Close()

		for {
			select {
			case <-listenCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				c.handleChange(listenCtx, msg.Payload, reload)
			}
		}
	}()

	c.logger.Info("Listening for rule changes",
		logging.Field{Key: "channel", Value: c.config.ChangesChannel},
	)

	return func() {
		cancel()
		<-done
	}, nil
}

func (c *Client) handleChange(ctx context.Context, payload string, reload func(context.Context) error) {
	var change RulesChanged
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		c.logger.Warn("Ignoring malformed rule change announcement",
			logging.Field{Key: "error", Value: err.Error()},
		)
		return
	}
	if change.InstanceID == c.instanceID {
		return
	}

	c.logger.Info("Rule set changed on another instance, reloading",
		logging.Field{Key: "origin", Value: change.InstanceID},
		logging.Field{Key: "origin_generation", Value: change.Generation},
	)
	if err := reload(ctx); err != nil {
		c.logger.Error("Failed to reload rule set", err)
	}
}

// ClaimEvent reports whether this instance is the first to handle studyID within
// the dedup window
func (c *Client) ClaimEvent(ctx context.Context, studyID string) (bool, error) {
	return c.Claim(ctx, studyID, c.config.DedupWindow)
}

// Claim sets key under the claim prefix unless another instance already holds it
func (c *Client) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	claimed, err := c.rdb.SetNX(ctx, c.config.ClaimPrefix+key, c.instanceID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	return claimed, nil
}
