package ldap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// MaxConnectionPoolLimit is the maximum allowed connections in a pool.
const MaxConnectionPoolLimit = 16

// dialFunc opens a transport-level connection to a server.
type dialFunc func(ctx context.Context, server *ServerInfo) (*ldap.Conn, error)

// connectionPool implements ConnectionPool. At most MaxConnections connections
// are checked out at once; Get waits on a semaphore for the rest.
type connectionPool struct {
	ctx     context.Context // Logging context
	config  *ConnectionConfig
	servers []*ServerInfo
	dial    dialFunc
	auth    func(*PooledConnection) error

	slots chan struct{}
	idle  chan *PooledConnection

	mu     sync.RWMutex
	closed bool

	activeConns  int64
	totalCreated int64
	totalErrors  int64
	startTime    time.Time
}

// NewConnectionPool creates a new connection pool and resolves its servers.
func NewConnectionPool(ctx context.Context, config *ConnectionConfig) (ConnectionPool, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	servers, err := discoverServers(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("server discovery failed: %w", err)
	}

	pool := newPool(ctx, config, servers)
	LogPoolEvent(ctx, "created", map[string]any{
		"server_count":    len(servers),
		"max_connections": config.MaxConnections,
	})

	return pool, nil
}

func newPool(ctx context.Context, config *ConnectionConfig, servers []*ServerInfo) *connectionPool {
	p := &connectionPool{
		ctx:       ctx,
		config:    config,
		servers:   servers,
		slots:     make(chan struct{}, config.MaxConnections),
		idle:      make(chan *PooledConnection, config.MaxConnections),
		startTime: time.Now(),
	}
	p.dial = p.dialServer
	p.auth = p.authenticateConnection
	return p
}

// discoverServers resolves configured URLs, or SRV records for the domain.
func discoverServers(ctx context.Context, config *ConnectionConfig) ([]*ServerInfo, error) {
	var servers []*ServerInfo

	switch {
	case len(config.LDAPURLs) > 0:
		tflog.SubsystemDebug(ctx, SubsystemPool, "Using configured LDAP URLs", map[string]any{
			"urls": config.LDAPURLs,
		})
		for _, url := range config.LDAPURLs {
			server, err := ParseLDAPURL(url)
			if err != nil {
				return nil, fmt.Errorf("invalid LDAP URL %s: %w", url, err)
			}
			servers = append(servers, server)
		}
	case config.Domain != "":
		discoveryCtx, cancel := context.WithTimeout(ctx, config.Timeout)
		defer cancel()

		found, err := NewSRVDiscovery(ctx).DiscoverServers(discoveryCtx, config.Domain)
		if err != nil {
			return nil, fmt.Errorf("SRV discovery failed: %w", err)
		}
		servers = found
	default:
		return nil, errors.New("either domain or LDAP URLs must be specified")
	}

	if len(servers) == 0 {
		return nil, errors.New("no servers discovered")
	}

	return servers, nil
}

// Get retrieves a connection from the pool, blocking while MaxConnections are
// checked out.
func (p *connectionPool) Get(ctx context.Context) (*PooledConnection, error) {
	if p.isClosed() {
		return nil, errors.New("connection pool is closed")
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		tflog.SubsystemDebug(p.ctx, SubsystemPool, "Gave up waiting for a connection", map[string]any{
			"error": ctx.Err().Error(),
		})
		return nil, ctx.Err()
	}

	conn := p.takeIdle()
	if conn == nil {
		var err error
		if conn, err = p.createConnection(ctx); err != nil {
			<-p.slots
			return nil, err
		}
	}

	conn.lastUsed = time.Now()
	conn.returnToPool = p.returnConnection
	atomic.AddInt64(&p.activeConns, 1)
	return conn, nil
}

// takeIdle returns a healthy idle connection, closing stale ones on the way.
func (p *connectionPool) takeIdle() *PooledConnection {
	for {
		select {
		case conn := <-p.idle:
			if p.isConnectionHealthy(conn) {
				return conn
			}
			p.closeConnection(conn)
		default:
			return nil
		}
	}
}

func newDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{Timeout: timeout}
}

// createConnection tries every server in order. The whole list is retried
// with backoff only while the last failure is retryable.
func (p *connectionPool) createConnection(ctx context.Context) (*PooledConnection, error) {
	var lastErr error
	backoff := p.config.InitialBackoff

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		for _, server := range p.servers {
			conn, err := p.createSingleConnection(ctx, server)
			if err != nil {
				lastErr = err
				atomic.AddInt64(&p.totalErrors, 1)
				LogConnectionEvent(p.ctx, "failed", map[string]any{
					"server": ServerInfoToURL(server),
					"error":  err.Error(),
				})
				continue
			}

			atomic.AddInt64(&p.totalCreated, 1)
			return conn, nil
		}

		if !IsRetryableError(lastErr) {
			return nil, lastErr
		}

		if attempt < p.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff = min(time.Duration(float64(backoff)*p.config.BackoffFactor), p.config.MaxBackoff)
			}
		}
	}

	return nil, NewConnectionError("failed to create connection after retries", true, lastErr)
}

// createSingleConnection dials, secures and authenticates one connection.
func (p *connectionPool) createSingleConnection(ctx context.Context, server *ServerInfo) (*PooledConnection, error) {
	conn, err := p.dial(ctx, server)
	if err != nil {
		return nil, err
	}

	pooled := &PooledConnection{
		conn:         conn,
		lastUsed:     time.Now(),
		healthy:      true,
		serverInfo:   server,
		returnToPool: p.returnConnection,
	}

	if p.config.HasAuthentication() {
		if err := p.auth(pooled); err != nil {
			if conn != nil {
				conn.Close()
			}
			return nil, WrapError("bind", err)
		}
	}

	LogConnectionEvent(p.ctx, "established", map[string]any{
		"server":        ServerInfoToURL(server),
		"authenticated": pooled.authenticated,
	})
	return pooled, nil
}

// dialServer opens an LDAPS connection, or a plain one upgraded with StartTLS.
func (p *connectionPool) dialServer(_ context.Context, server *ServerInfo) (*ldap.Conn, error) {
	url := ServerInfoToURL(server)
	tlsConfig, err := p.config.tlsConfig(server.Host)
	if err != nil {
		return nil, &LDAPError{
			Operation: "connect",
			Message:   err.Error(),
			Category:  ErrorCategoryConnection,
			Cause:     err,
		}
	}
	dialer := ldap.DialWithDialer(newDialer(p.config.Timeout))

	var conn *ldap.Conn

	if server.UseTLS {
		conn, err = ldap.DialURL(url, dialer, ldap.DialWithTLSConfig(tlsConfig))
	} else {
		conn, err = ldap.DialURL(url, dialer)
		if err == nil && p.config.UseTLS {
			if tlsErr := conn.StartTLS(tlsConfig); tlsErr != nil {
				conn.Close()
				err = fmt.Errorf("StartTLS: %w", tlsErr)
			}
		}
	}

	if err != nil {
		return nil, &LDAPError{
			Operation: "connect",
			Message:   fmt.Sprintf("failed to connect to %s", url),
			Category:  ErrorCategoryConnection,
			Retryable: false,
			Cause:     err,
		}
	}

	conn.SetTimeout(p.config.Timeout)
	return conn, nil
}

// authenticateConnection authenticates a pooled connection using the configured method.
func (p *connectionPool) authenticateConnection(pooled *PooledConnection) error {
	if pooled == nil || pooled.conn == nil {
		return errors.New("connection is nil")
	}

	var err error
	switch method := p.config.GetAuthMethod(); method {
	case AuthMethodSimpleBind:
		if p.config.Username == "" {
			return errors.New("username is required for simple bind authentication")
		}
		err = pooled.conn.Bind(p.config.Username, p.config.Password)
	case AuthMethodKerberos:
		err = performKerberosAuth(p.ctx, pooled.conn, p.config, pooled.serverInfo)
	case AuthMethodExternal:
		err = pooled.conn.ExternalBind()
	default:
		return fmt.Errorf("unsupported authentication method: %s", method.String())
	}

	pooled.authenticated = err == nil
	return err
}

// returnConnection releases a connection and its semaphore slot.
func (p *connectionPool) returnConnection(conn *PooledConnection) {
	if conn == nil {
		return
	}

	atomic.AddInt64(&p.activeConns, -1)
	defer func() { <-p.slots }()

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || !p.isConnectionHealthy(conn) {
		p.closeConnection(conn)
		return
	}

	conn.lastUsed = time.Now()
	select {
	case p.idle <- conn:
	default:
		p.closeConnection(conn)
	}
}

// isConnectionHealthy checks if a connection can be handed out again.
func (p *connectionPool) isConnectionHealthy(conn *PooledConnection) bool {
	if conn == nil || conn.conn == nil || !conn.healthy {
		return false
	}

	if conn.conn.IsClosing() {
		return false
	}

	if time.Since(conn.lastUsed) > p.config.MaxIdleTime {
		return false
	}

	return !p.config.HasAuthentication() || conn.authenticated
}

func (p *connectionPool) closeConnection(conn *PooledConnection) {
	if conn != nil && conn.conn != nil {
		conn.conn.Close()
		conn.healthy = false
		conn.authenticated = false
	}
}

func (p *connectionPool) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Close closes idle connections and rejects further Get calls. Connections
// still checked out are closed when they are returned.
func (p *connectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for {
		select {
		case conn := <-p.idle:
			p.closeConnection(conn)
		default:
			LogPoolEvent(p.ctx, "closed", map[string]any{
				"created": atomic.LoadInt64(&p.totalCreated),
				"errors":  atomic.LoadInt64(&p.totalErrors),
			})
			return nil
		}
	}
}

// Stats returns pool statistics.
func (p *connectionPool) Stats() PoolStats {
	active := atomic.LoadInt64(&p.activeConns)
	idle := len(p.idle)

	return PoolStats{
		Total:   idle + int(active),
		Active:  active,
		Idle:    idle,
		Created: atomic.LoadInt64(&p.totalCreated),
		Errors:  atomic.LoadInt64(&p.totalErrors),
		Uptime:  time.Since(p.startTime),
	}
}

// validateConfig validates the connection configuration.
func validateConfig(config *ConnectionConfig) error {
	if config.MaxConnections <= 0 {
		return errors.New("MaxConnections must be positive")
	}

	if config.MaxConnections > MaxConnectionPoolLimit {
		return fmt.Errorf("MaxConnections too high (max %d)", MaxConnectionPoolLimit)
	}

	if config.MaxIdleTime <= 0 {
		return errors.New("MaxIdleTime must be positive")
	}

	if config.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}

	if config.PageSize == 0 {
		return errors.New("PageSize must be positive")
	}

	if config.MaxRetries < 0 {
		return errors.New("MaxRetries cannot be negative")
	}

	if config.BackoffFactor <= 1.0 {
		return errors.New("BackoffFactor must be greater than 1.0")
	}

	if (config.TLSClientCertFile == "") != (config.TLSClientKeyFile == "") {
		return errors.New("TLSClientCertFile and TLSClientKeyFile must be set together")
	}

	if config.BaseDN != "" {
		if err := ValidateDNSyntax(config.BaseDN); err != nil {
			return fmt.Errorf("BaseDN: %w", err)
		}
	}

	return nil
}

// Close returns the connection to its pool.
func (pc *PooledConnection) Close() {
	if pc.returnToPool != nil {
		release := pc.returnToPool
		pc.returnToPool = nil
		release(pc)
	}
}

func (pc *PooledConnection) Conn() *ldap.Conn {
	return pc.conn
}

func (pc *PooledConnection) ServerInfo() *ServerInfo {
	return pc.serverInfo
}

