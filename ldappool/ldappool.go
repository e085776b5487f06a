// Package ldappool provides the LDAP connection sources (spec
// component C2, LDAP side): round-robin reads over an ordered list of
// host:port entries, and a single always-primary write target so
// replication conflicts can't arise from multi-master writes. Each
// Acquire dials and binds a new connection and Release closes it; the
// number of open connections is not capped, and Config.AcquireTimeout
// is not applied (only DialTimeout bounds a dial).
// Grounded on the netresearch/ldap-manager architecture retrieved in
// the example pack (a PoolManager wrapping go-ldap connections behind
// a cache layer) and on Boulder's own acquire-with-timeout pooling
// idiom in sa/database.go.
package ldappool

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"github.com/iland112/pkd-ingest/pkdmetrics"
)

// Config describes the read replica set, the write primary, and bind
// credentials. BindPasswordEnv must name a populated environment
// variable or New fails, matching spec section 4.2's refusal
// contract.
type Config struct {
	ReadHosts      []string // "host:port" entries, round-robin order
	WriteHost      string
	BindDN         string
	BindPasswordEnv string
	AcquireTimeout time.Duration
	DialTimeout    time.Duration
}

// Pool hands out LDAP connections: read connections round-robin over
// ReadHosts, write connections always target WriteHost.
type Pool struct {
	cfg      Config
	password string
	log      *zap.Logger
	rrIndex  uint64
}

// Handle is the RAII token returned by AcquireRead/AcquireWrite.
// Release must be called on every exit path.
type Handle struct {
	conn *ldap.Conn
}

func (h *Handle) Conn() *ldap.Conn {
	return h.conn
}

func (h *Handle) Release() {
	if h == nil || h.conn == nil {
		return
	}
	h.conn.Close()
	h.conn = nil
}

// New validates configuration and resolves the bind password from the
// environment. It does not dial eagerly; each Acquire call opens its
// own connection, so none are held between bursts of uploads.
func New(cfg Config, log *zap.Logger) (*Pool, error) {
	if len(cfg.ReadHosts) == 0 {
		return nil, fmt.Errorf("ldappool: at least one read host is required")
	}
	if cfg.WriteHost == "" {
		return nil, fmt.Errorf("ldappool: write host is required")
	}
	password, ok := os.LookupEnv(cfg.BindPasswordEnv)
	if !ok || password == "" {
		return nil, fmt.Errorf("ldappool: required secret %s is unset", cfg.BindPasswordEnv)
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 3 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	return &Pool{cfg: cfg, password: password, log: log}, nil
}

func (p *Pool) dial(_ context.Context, host string) (*ldap.Conn, error) {
	dialer := &net.Dialer{Timeout: p.cfg.DialTimeout}
	conn, err := ldap.DialURL(fmt.Sprintf("ldap://%s", host), ldap.DialWithDialer(dialer))
	if err != nil {
		return nil, fmt.Errorf("ldappool: dial %s: %w", host, err)
	}
	if err := conn.Bind(p.cfg.BindDN, p.password); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ldappool: bind to %s: %w", host, err)
	}
	return conn, nil
}

// AcquireRead returns a connection to the next read replica in
// round-robin order, the index incremented atomically so concurrent
// uploads fan out evenly across the replica set.
func (p *Pool) AcquireRead(ctx context.Context) (*Handle, error) {
	defer pkdmetrics.ObservePoolAcquire("ldap-read", time.Now())

	idx := atomic.AddUint64(&p.rrIndex, 1)
	host := p.cfg.ReadHosts[idx%uint64(len(p.cfg.ReadHosts))]
	conn, err := p.dial(ctx, host)
	if err != nil {
		return nil, err
	}
	return &Handle{conn: conn}, nil
}

// AcquireWrite always targets the declared primary, never a replica,
// so concurrent writers never race a multi-master reconciliation.
func (p *Pool) AcquireWrite(ctx context.Context) (*Handle, error) {
	defer pkdmetrics.ObservePoolAcquire("ldap-write", time.Now())

	conn, err := p.dial(ctx, p.cfg.WriteHost)
	if err != nil {
		return nil, fmt.Errorf("ldappool: write handle unavailable: %w", err)
	}
	return &Handle{conn: conn}, nil
}
