// control/config.go
// Author: momentics <momentics@gmail.com>
//
// TOML configuration file loader. Keys left out of the file keep the
// defaults of the api option constructors.

package control

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/momentics/hioload-ripc/api"
	"github.com/momentics/hioload-ripc/protocol"
)

// File is a decoded and validated configuration file.
type File struct {
	Init    api.InitArgs
	Connect api.ConnectOptions
	Bind    api.BindOptions

	// HasConnect and HasBind report which sections were present.
	HasConnect bool
	HasBind    bool
}

type rawFile struct {
	Init    rawInit    `toml:"init"`
	Connect rawConnect `toml:"connect"`
	Bind    rawBind    `toml:"bind"`
	TLS     rawTLS     `toml:"tls"`
}

type rawInit struct {
	GlobalLocking bool `toml:"global_locking"`
}

type rawConnect struct {
	Address                 string `toml:"address"`
	Encrypted               bool   `toml:"encrypted"`
	Blocking                bool   `toml:"blocking"`
	TCPNoDelay              bool   `toml:"tcp_nodelay"`
	ConnectTimeout          int    `toml:"connect_timeout"`
	PingTimeout             int    `toml:"ping_timeout"`
	GuaranteedOutputBuffers int    `toml:"guaranteed_output_buffers"`
	MaxOutputBuffers        int    `toml:"max_output_buffers"`
	NumInputBuffers         int    `toml:"num_input_buffers"`
	Compression             string `toml:"compression"`
	SysSendBufSize          int    `toml:"sys_send_buf_size"`
	SysRecvBufSize          int    `toml:"sys_recv_buf_size"`
	ConnectionVersion       string `toml:"connection_version"`
	KeyExchange             bool   `toml:"key_exchange"`
	ProtocolType            uint8  `toml:"protocol_type"`
	ComponentVersion        string `toml:"component_version"`
}

type rawBind struct {
	Address                 string `toml:"address"`
	Encrypted               bool   `toml:"encrypted"`
	Blocking                bool   `toml:"blocking"`
	TCPNoDelay              bool   `toml:"tcp_nodelay"`
	MaxFragmentSize         int    `toml:"max_fragment_size"`
	GuaranteedOutputBuffers int    `toml:"guaranteed_output_buffers"`
	MaxOutputBuffers        int    `toml:"max_output_buffers"`
	NumInputBuffers         int    `toml:"num_input_buffers"`
	SharedPoolSize          int    `toml:"shared_pool_size"`
	SysSendBufSize          int    `toml:"sys_send_buf_size"`
	SysRecvBufSize          int    `toml:"sys_recv_buf_size"`
	PingTimeout             int    `toml:"ping_timeout"`
	MinPingTimeout          int    `toml:"min_ping_timeout"`
	Compression             string `toml:"compression"`
	CompressionLevel        int    `toml:"compression_level"`
	ForceCompression        bool   `toml:"force_compression"`
	MaxConnectionVersion    string `toml:"max_connection_version"`
	ProtocolType            uint8  `toml:"protocol_type"`
	ComponentVersion        string `toml:"component_version"`
}

type rawTLS struct {
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// LoadFile reads and validates the configuration at path.
func LoadFile(path string) (*File, error) {
	var raw rawFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load ripc config: %w", err)
	}
	return build(raw, meta)
}

// Decode parses configuration text; used for embedded defaults and tests.
func Decode(text string) (*File, error) {
	var raw rawFile
	meta, err := toml.Decode(text, &raw)
	if err != nil {
		return nil, fmt.Errorf("decode ripc config: %w", err)
	}
	return build(raw, meta)
}

func build(raw rawFile, meta toml.MetaData) (*File, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	f := &File{
		Init:       api.InitArgs{GlobalLocking: raw.Init.GlobalLocking},
		HasConnect: meta.IsDefined("connect"),
		HasBind:    meta.IsDefined("bind"),
	}
	if f.HasConnect {
		c, err := buildConnect(raw.Connect, raw.TLS, meta)
		if err != nil {
			return nil, err
		}
		f.Connect = c
	}
	if f.HasBind {
		b, err := buildBind(raw.Bind, raw.TLS, meta)
		if err != nil {
			return nil, err
		}
		f.Bind = b
	}
	return f, nil
}

func buildConnect(r rawConnect, t rawTLS, meta toml.MetaData) (api.ConnectOptions, error) {
	o := api.DefaultConnectOptions(strings.TrimSpace(r.Address))
	has := func(key string) bool { return meta.IsDefined("connect", key) }

	if has("blocking") {
		o.Blocking = r.Blocking
	}
	if has("tcp_nodelay") {
		o.TCPNoDelay = r.TCPNoDelay
	}
	if has("connect_timeout") {
		o.ConnectTimeout = seconds(r.ConnectTimeout)
	}
	if has("ping_timeout") {
		o.PingTimeout = seconds(r.PingTimeout)
	}
	if has("guaranteed_output_buffers") {
		o.GuaranteedOutputBuffers = r.GuaranteedOutputBuffers
	}
	if has("max_output_buffers") {
		o.MaxOutputBuffers = r.MaxOutputBuffers
	}
	if has("num_input_buffers") {
		o.NumInputBuffers = r.NumInputBuffers
	}
	if has("sys_send_buf_size") {
		o.SysSendBufSize = r.SysSendBufSize
	}
	if has("sys_recv_buf_size") {
		o.SysRecvBufSize = r.SysRecvBufSize
	}
	if has("key_exchange") {
		o.KeyExchange = r.KeyExchange
	}
	if has("protocol_type") {
		o.ProtocolType = r.ProtocolType
	}
	if has("component_version") {
		o.ComponentVersion = r.ComponentVersion
	}
	if has("compression") {
		ct, err := protocol.ParseCompressionType(strings.TrimSpace(r.Compression))
		if err != nil {
			return o, fmt.Errorf("connect.compression: %w", err)
		}
		o.CompressionType = ct
	}
	if has("connection_version") {
		v, err := protocol.ParseConnectionVersion(r.ConnectionVersion)
		if err != nil {
			return o, fmt.Errorf("connect.connection_version: %w", err)
		}
		o.ConnectionVersion = v
	}
	if r.Encrypted {
		o.ConnectionType = api.ConnectionEncrypted
		cfg, err := clientTLS(t)
		if err != nil {
			return o, err
		}
		o.TLS = cfg
	}
	if err := o.Validate(); err != nil {
		return o, err
	}
	return o, nil
}

func buildBind(r rawBind, t rawTLS, meta toml.MetaData) (api.BindOptions, error) {
	o := api.DefaultBindOptions(strings.TrimSpace(r.Address))
	has := func(key string) bool { return meta.IsDefined("bind", key) }

	if has("blocking") {
		o.Blocking = r.Blocking
	}
	if has("tcp_nodelay") {
		o.TCPNoDelay = r.TCPNoDelay
	}
	if has("max_fragment_size") {
		o.MaxFragmentSize = r.MaxFragmentSize
	}
	if has("guaranteed_output_buffers") {
		o.GuaranteedOutputBuffers = r.GuaranteedOutputBuffers
	}
	if has("max_output_buffers") {
		o.MaxOutputBuffers = r.MaxOutputBuffers
	}
	if has("num_input_buffers") {
		o.NumInputBuffers = r.NumInputBuffers
	}
	if has("shared_pool_size") {
		o.SharedPoolSize = r.SharedPoolSize
	}
	if has("sys_send_buf_size") {
		o.SysSendBufSize = r.SysSendBufSize
	}
	if has("sys_recv_buf_size") {
		o.SysRecvBufSize = r.SysRecvBufSize
	}
	if has("ping_timeout") {
		o.PingTimeout = seconds(r.PingTimeout)
	}
	if has("min_ping_timeout") {
		o.MinPingTimeout = seconds(r.MinPingTimeout)
	}
	if has("compression_level") {
		o.CompressionLevel = r.CompressionLevel
	}
	if has("force_compression") {
		o.ForceCompression = r.ForceCompression
	}
	if has("protocol_type") {
		o.ProtocolType = r.ProtocolType
	}
	if has("component_version") {
		o.ComponentVersion = r.ComponentVersion
	}
	if has("compression") {
		ct, err := protocol.ParseCompressionType(strings.TrimSpace(r.Compression))
		if err != nil {
			return o, fmt.Errorf("bind.compression: %w", err)
		}
		o.CompressionType = ct
	}
	if has("max_connection_version") {
		v, err := protocol.ParseConnectionVersion(r.MaxConnectionVersion)
		if err != nil {
			return o, fmt.Errorf("bind.max_connection_version: %w", err)
		}
		o.MaxConnectionVersion = v
	}
	if r.Encrypted {
		o.ConnectionType = api.ConnectionEncrypted
		cfg, err := serverTLS(t)
		if err != nil {
			return o, err
		}
		o.TLS = cfg
	}
	if err := o.Validate(); err != nil {
		return o, err
	}
	return o, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func clientTLS(t rawTLS) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         strings.TrimSpace(t.ServerName),
		InsecureSkipVerify: t.InsecureSkipVerify,
	}
	if t.CAFile != "" {
		pool, err := loadCertPool(t.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if t.CertFile != "" || t.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("tls: load client key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func serverTLS(t rawTLS) (*tls.Config, error) {
	if t.CertFile == "" || t.KeyFile == "" {
		return nil, fmt.Errorf("tls: encrypted bind requires cert_file and key_file")
	}
	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tls: load server key pair: %w", err)
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if t.CAFile != "" {
		pool, err := loadCertPool(t.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tls: read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("tls: no certificates in %s", path)
	}
	return pool, nil
}
