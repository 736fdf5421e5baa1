package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RedisConfig captures the connection parameters for the lightweight Redis client.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
	Timeout  time.Duration
}

const (
	defaultRedisTimeout = 5 * time.Second
	redisKeyPrefix      = "classline:"
)

// RedisClient speaks the handful of RESP commands the backend needs: AUTH,
// SELECT, GET, SET PX, DEL, INCR, PEXPIRE and PTTL. A single connection is
// shared behind a mutex; a broken connection is dropped and redialed on the
// next command.
type RedisClient struct {
	cfg    RedisConfig
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewRedisClient dials the configured server. Connecting eagerly surfaces
// misconfiguration at startup instead of on the first request.
func NewRedisClient(cfg RedisConfig) (*RedisClient, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		return nil, errors.New("redis: address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRedisTimeout
	}

	client := &RedisClient{cfg: cfg}

	client.mu.Lock()
	defer client.mu.Unlock()
	if err := client.dialLocked(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

// Close tears down the underlying connection.
func (c *RedisClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

// IncrementWithTTL bumps the counter under key and pins its expiry to the
// window on first increment. Returns the current count and remaining TTL.
func (c *RedisClient) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	k := c.prefixed(key)

	count, err := c.commandInt(ctx, "INCR", k)
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if _, err := c.commandInt(ctx, "PEXPIRE", k, millis(window)); err != nil {
			return 0, 0, err
		}
	}

	ttl, err := c.commandInt(ctx, "PTTL", k)
	if err != nil || ttl < 0 {
		// PTTL of -1/-2 or a transient failure; report the full window.
		return count, window, nil
	}
	return count, time.Duration(ttl) * time.Millisecond, nil
}

// Set stores the value with a PX expiry.
func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	reply, err := c.command(ctx, "SET", c.prefixed(key), string(value), "PX", millis(ttl))
	if err != nil {
		return err
	}
	if status, ok := reply.(string); !ok || !strings.EqualFold(status, "OK") {
		return fmt.Errorf("redis: SET returned %v", reply)
	}
	return nil
}

// Get fetches the value under key; the bool reports whether it existed.
func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	reply, err := c.command(ctx, "GET", c.prefixed(key))
	if err != nil {
		return nil, false, err
	}

	switch v := reply.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		return v, true, nil
	default:
		return nil, false, fmt.Errorf("redis: unexpected GET reply %T", v)
	}
}

// Delete removes the given keys; missing keys are not an error.
func (c *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	args := make([]string, 1, len(keys)+1)
	args[0] = "DEL"
	for _, key := range keys {
		args = append(args, c.prefixed(key))
	}
	_, err := c.command(ctx, args...)
	return err
}

func (c *RedisClient) prefixed(key string) string {
	key = collapseColons(key)
	if strings.HasPrefix(key, redisKeyPrefix) {
		return key
	}
	return collapseColons(redisKeyPrefix + key)
}

func (c *RedisClient) commandInt(ctx context.Context, args ...string) (int64, error) {
	reply, err := c.command(ctx, args...)
	if err != nil {
		return 0, err
	}
	switch v := reply.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("redis: unexpected integer reply %T", v)
	}
}

func (c *RedisClient) command(ctx context.Context, args ...string) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.dialLocked(ctx); err != nil {
		return nil, err
	}

	if err := c.conn.SetDeadline(c.deadline(ctx)); err != nil {
		c.dropLocked()
		return nil, err
	}

	if _, err := c.conn.Write(encodeCommand(args)); err != nil {
		c.dropLocked()
		return nil, err
	}

	reply, err := decodeReply(c.reader)
	if err != nil {
		c.dropLocked()
		return nil, err
	}
	return reply, nil
}

func (c *RedisClient) dialLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	conn, err := c.dialConn(ctx)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(conn)
	if err := conn.SetDeadline(c.deadline(ctx)); err != nil {
		conn.Close()
		return err
	}

	if err := c.handshake(conn, reader); err != nil {
		conn.Close()
		return err
	}

	// Per-command deadlines take over from here.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.reader = reader
	return nil
}

func (c *RedisClient) dialConn(ctx context.Context) (net.Conn, error) {
	if c.cfg.TLS {
		dialer := &tls.Dialer{NetDialer: &net.Dialer{}}
		return dialer.DialContext(ctx, "tcp", c.cfg.Address)
	}
	dialer := &net.Dialer{}
	return dialer.DialContext(ctx, "tcp", c.cfg.Address)
}

func (c *RedisClient) handshake(conn net.Conn, reader *bufio.Reader) error {
	if c.cfg.Password != "" || c.cfg.Username != "" {
		auth := []string{"AUTH"}
		if c.cfg.Username != "" {
			auth = append(auth, c.cfg.Username)
		}
		auth = append(auth, c.cfg.Password)
		if err := roundTripOK(conn, reader, auth, "AUTH"); err != nil {
			return err
		}
	}

	if c.cfg.DB > 0 {
		if err := roundTripOK(conn, reader, []string{"SELECT", strconv.Itoa(c.cfg.DB)}, "SELECT"); err != nil {
			return err
		}
	}
	return nil
}

func roundTripOK(conn net.Conn, reader *bufio.Reader, args []string, verb string) error {
	if _, err := conn.Write(encodeCommand(args)); err != nil {
		return err
	}
	reply, err := decodeReply(reader)
	if err != nil {
		return err
	}
	if status, ok := reply.(string); !ok || !strings.EqualFold(status, "OK") {
		return fmt.Errorf("redis: %s failed: %v", verb, reply)
	}
	return nil
}

func (c *RedisClient) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
}

func (c *RedisClient) deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(c.cfg.Timeout)
}

// encodeCommand renders args as a RESP array of bulk strings.
func encodeCommand(args []string) []byte {
	size := 16
	for _, arg := range args {
		size += len(arg) + 16
	}

	buf := make([]byte, 0, size)
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(args)), 10)
	buf = append(buf, '\r', '\n')
	for _, arg := range args {
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(arg)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, arg...)
		buf = append(buf, '\r', '\n')
	}
	return buf
}

// decodeReply parses one RESP reply: simple strings and integers come back as
// string/int64, bulk strings as []byte (nil bulk as untyped nil), errors as a
// Go error, arrays as []any.
func decodeReply(r *bufio.Reader) (any, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	line, err := readRespLine(r)
	if err != nil {
		return nil, err
	}

	switch kind {
	case '+':
		return line, nil
	case '-':
		return nil, errors.New(line)
	case ':':
		return strconv.ParseInt(line, 10, 64)
	case '$':
		length, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		if length < 0 {
			return nil, nil
		}
		body := make([]byte, length+2)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
		if body[length] != '\r' || body[length+1] != '\n' {
			return nil, errors.New("redis: malformed bulk reply")
		}
		return body[:length], nil
	case '*':
		count, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		if count < 0 {
			return nil, nil
		}
		items := make([]any, count)
		for i := range items {
			if items[i], err = decodeReply(r); err != nil {
				return nil, err
			}
		}
		return items, nil
	default:
		return nil, fmt.Errorf("redis: unexpected reply prefix %q", kind)
	}
}

func readRespLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// collapseColons squashes runs of colons so composed keys stay readable.
func collapseColons(key string) string {
	if !strings.Contains(key, "::") {
		return key
	}

	var b strings.Builder
	b.Grow(len(key))
	prevColon := false
	for i := 0; i < len(key); i++ {
		ch := key[i]
		if ch == ':' {
			if prevColon {
				continue
			}
			prevColon = true
		} else {
			prevColon = false
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func millis(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	return strconv.FormatInt(d.Milliseconds(), 10)
}
