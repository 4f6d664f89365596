package runner

import (
	"context"
	"time"

	apperrors "flightplan/internal/errors"
	"flightplan/internal/sshclient"
	"flightplan/internal/types"
)

// Conn is an open connection to one server.
type Conn interface {
	sshclient.Session
	Close() error
}

// Dialer opens connections to servers. Failures must be CONNECTION_ERRORs.
type Dialer interface {
	Dial(ctx context.Context, server *types.Server) (Conn, error)
}

// KeyLoader loads the SSH private key referenced by a server.
type KeyLoader interface {
	GetKeyByID(id int64) (*types.Key, error)
}

// SSHDialer connects with sshclient using the server's stored credentials.
type SSHDialer struct {
	Keys           KeyLoader
	ConnectTimeout time.Duration
	DefaultPort    string
	KnownHostsFile string
}

func (d *SSHDialer) Dial(ctx context.Context, server *types.Server) (Conn, error) {
	cfg, err := d.clientConfig(server)
	if err != nil {
		return nil, apperrors.ConnectionError(server.Host(), err)
	}
	client, err := sshclient.NewClient(cfg)
	if err != nil {
		return nil, apperrors.ConnectionError(server.Host(), err)
	}
	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Client returns a connected sshclient.Client, used for file transfer.
func (d *SSHDialer) Client(ctx context.Context, server *types.Server) (*sshclient.Client, error) {
	conn, err := d.Dial(ctx, server)
	if err != nil {
		return nil, err
	}
	return conn.(*sshclient.Client), nil
}

func (d *SSHDialer) clientConfig(server *types.Server) (sshclient.Config, error) {
	port := server.SSHPort
	if port == "" {
		port = d.DefaultPort
	}
	cfg := sshclient.Config{
		Host:           server.Host(),
		Port:           port,
		User:           server.SSHUsername,
		Password:       server.SSHPassword,
		AuthMode:       server.SSHAuthMode,
		ConnectTimeout: d.ConnectTimeout,
		KnownHostsFile: d.KnownHostsFile,
	}
	if server.SSHKeyID != 0 && d.Keys != nil && server.SSHAuthMode != types.AuthPassword {
		key, err := d.Keys.GetKeyByID(server.SSHKeyID)
		if err != nil {
			return cfg, err
		}
		cfg.PrivateKey = []byte(key.SecretValue)
	}
	return cfg, nil
}
