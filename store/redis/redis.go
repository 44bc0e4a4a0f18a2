package redis

import (
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"codocs/store"
)

// Config represents the Redis store config structure.
type Config struct {
	Address     string        `koanf:"address"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	ActiveConns int           `koanf:"active_conns"`
	IdleConns   int           `koanf:"idle_conns"`
	Timeout     time.Duration `koanf:"timeout"`

	// Key template for documents, eg: "codocs:doc:%s".
	PrefixDoc string `koanf:"prefix_doc"`
}

// Redis represents the Redis implementation of the Store interface. Each
// document is a hash with content and title fields.
type Redis struct {
	cfg  *Config
	pool *redis.Pool
}

type doc struct {
	Content []byte `redis:"content"`
	Title   string `redis:"title"`
}

// New returns a new Redis store.
func New(cfg Config) (*Redis, error) {
	pool := &redis.Pool{
		Wait:      true,
		MaxActive: cfg.ActiveConns,
		MaxIdle:   cfg.IdleConns,
		Dial: func() (redis.Conn, error) {
			return redis.Dial(
				"tcp",
				cfg.Address,
				redis.DialPassword(cfg.Password),
				redis.DialConnectTimeout(cfg.Timeout),
				redis.DialReadTimeout(cfg.Timeout),
				redis.DialWriteTimeout(cfg.Timeout),
				redis.DialDatabase(cfg.DB),
			)
		},
	}

	// Test connection.
	c := pool.Get()
	defer c.Close()

	if err := c.Err(); err != nil {
		return nil, err
	}
	return &Redis{cfg: &cfg, pool: pool}, nil
}

// Get gets a document from the store.
func (r *Redis) Get(id string) (store.Document, error) {
	c := r.pool.Get()
	defer c.Close()

	var out store.Document

	res, err := redis.Values(c.Do("HGETALL", r.key(id)))
	if err != nil {
		return out, err
	}
	if len(res) == 0 {
		return out, store.ErrDocNotFound
	}

	var d doc
	if err := redis.ScanStruct(res, &d); err != nil {
		return out, err
	}
	return store.Document{
		ID:      id,
		Content: d.Content,
		Title:   d.Title,
	}, nil
}

// Put writes a document's content and title to the store.
func (r *Redis) Put(id string, content []byte, title string) error {
	c := r.pool.Get()
	defer c.Close()

	_, err := c.Do("HMSET", r.key(id),
		"content", content,
		"title", title)
	return err
}

// PutTitle overwrites a document's title, creating the record if absent.
func (r *Redis) PutTitle(id, title string) error {
	c := r.pool.Get()
	defer c.Close()

	_, err := c.Do("HSET", r.key(id), "title", title)
	return err
}

func (r *Redis) key(id string) string {
	return fmt.Sprintf(r.cfg.PrefixDoc, id)
}
