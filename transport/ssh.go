package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	osuser "os/user"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sshConn is a byte stream over the engine subsystem of an SSH session.
type sshConn struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

// dialSSH connects over SSH and requests the engine subsystem on a fresh
// session. The subsystem's stdin/stdout carry the packet stream.
func dialSSH(ctx context.Context, info *ConnectionInfo) (io.ReadWriteCloser, error) {
	config, err := sshClientConfig(info)
	if err != nil {
		return nil, err
	}

	addr := info.hostPort(22)
	dialer := net.Dialer{}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(raw, addr, config)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(clientConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ssh session: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		_ = client.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		_ = client.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.RequestSubsystem(info.subsystem()); err != nil {
		_ = session.Close()
		_ = client.Close()
		return nil, fmt.Errorf("request subsystem %q: %w", info.subsystem(), err)
	}

	return &sshConn{client: client, session: session, stdin: stdin, stdout: stdout}, nil
}

func (c *sshConn) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

func (c *sshConn) Write(p []byte) (int, error) {
	return c.stdin.Write(p)
}

func (c *sshConn) Close() error {
	_ = c.stdin.Close()
	_ = c.session.Close()
	return c.client.Close()
}

func sshClientConfig(info *ConnectionInfo) (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod

	if signer, err := loadPrivateKey(info.KeyPath); err != nil {
		return nil, err
	} else if signer != nil {
		methods = append(methods, ssh.PublicKeys(signer))
	}

	userName := ""
	if info.Credential != nil {
		userName = info.Credential.UserName
		if info.Credential.Password != nil {
			password := info.Credential.Password
			methods = append(methods, ssh.PasswordCallback(func() (string, error) {
				plain, err := password.Reveal()
				if err != nil {
					return "", err
				}
				return string(plain), nil
			}))
		}
	}
	if userName == "" {
		current, err := osuser.Current()
		if err != nil {
			return nil, fmt.Errorf("no user name configured and none resolvable: %w", err)
		}
		userName = current.Username
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no SSH authentication configured: set a key path or a credential")
	}

	hostKeys, err := hostKeyCallback(info)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            userName,
		Auth:            methods,
		HostKeyCallback: hostKeys,
		Timeout:         info.connectTimeout(),
	}, nil
}

// loadPrivateKey loads the configured key, falling back to the common
// default locations. Returns nil without error when no key exists.
func loadPrivateKey(keyPath string) (ssh.Signer, error) {
	if keyPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil
		}
		for _, candidate := range []string{
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_rsa"),
		} {
			if _, err := os.Stat(candidate); err == nil {
				keyPath = candidate
				break
			}
		}
		if keyPath == "" {
			return nil, nil
		}
	}

	// Expand ~ in path
	if len(keyPath) >= 2 && keyPath[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", keyPath, err)
		}
		keyPath = filepath.Join(home, keyPath[2:])
	}

	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", keyPath, err)
	}
	return signer, nil
}

func hostKeyCallback(info *ConnectionInfo) (ssh.HostKeyCallback, error) {
	if info.SkipVerify {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := info.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("known_hosts file not found at %s: connect manually first or set SkipVerify", path)
	}

	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("read known_hosts: %w", err)
	}
	return callback, nil
}
