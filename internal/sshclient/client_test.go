package sshclient

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"flightplan/internal/types"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// serveFakeHost runs a minimal SSH server on conn. It understands
// "echo <text>", "exit <n>", "read-stdin" and the sftp subsystem.
func serveFakeHost(t *testing.T, conn net.Conn, password string) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected")
		},
	}
	cfg.AddHostKey(signer)

	go func() {
		sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
		if err != nil {
			return
		}
		defer sconn.Close()
		go ssh.DiscardRequests(reqs)
		for newCh := range chans {
			if newCh.ChannelType() != "session" {
				newCh.Reject(ssh.UnknownChannelType, "unsupported")
				continue
			}
			ch, requests, err := newCh.Accept()
			if err != nil {
				continue
			}
			go handleSession(ch, requests)
		}
	}()
}

func handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			ssh.Unmarshal(req.Payload, &payload)
			req.Reply(true, nil)
			status := fakeExec(payload.Command, ch)
			ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
			return
		case "subsystem":
			var payload struct{ Name string }
			ssh.Unmarshal(req.Payload, &payload)
			if payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			server, err := sftp.NewServer(ch)
			if err != nil {
				return
			}
			server.Serve()
			return
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func fakeExec(cmd string, ch ssh.Channel) int {
	switch {
	case strings.HasPrefix(cmd, "echo "):
		fmt.Fprintln(ch, strings.TrimPrefix(cmd, "echo "))
		return 0
	case strings.HasPrefix(cmd, "exit "):
		n, _ := strconv.Atoi(strings.TrimPrefix(cmd, "exit "))
		fmt.Fprintf(ch.Stderr(), "exiting with %d\n", n)
		return n
	case cmd == "read-stdin":
		line, _ := bufio.NewReader(ch).ReadString('\n')
		fmt.Fprintf(ch, "got:%s", line)
		return 0
	}
	fmt.Fprintf(ch.Stderr(), "unknown command %q\n", cmd)
	return 127
}

// loopbackPair returns both ends of a loopback TCP connection. net.Pipe is
// unbuffered and deadlocks the simultaneous SSH version exchange.
func loopbackPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- conn
	}()

	clientConn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	serverConn := <-accepted
	if serverConn == nil {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() { serverConn.Close() })
	return clientConn, serverConn
}

func connectedClient(t *testing.T, password string) *Client {
	t.Helper()
	clientConn, serverConn := loopbackPair(t)
	serveFakeHost(t, serverConn, "secret")

	c, err := NewClient(Config{Host: "fake", User: "deploy", Password: password})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.handshake(clientConn); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientRunReportsExitStatus(t *testing.T) {
	c := connectedClient(t, "secret")

	st, out, _, err := c.Run(context.Background(), "echo hello", "")
	if err != nil || st != 0 || out != "hello\n" {
		t.Fatalf("echo: status=%d out=%q err=%v", st, out, err)
	}

	st, _, errOut, err := c.Run(context.Background(), "exit 3", "")
	if err != nil || st != 3 || errOut != "exiting with 3\n" {
		t.Fatalf("exit: status=%d stderr=%q err=%v", st, errOut, err)
	}
}

func TestClientExecuteWritesPasswordToStdin(t *testing.T) {
	c := connectedClient(t, "secret")
	res, err := Execute(context.Background(), c, Prepared{Commands: []string{"read-stdin"}, Sudo: types.SudoPassword}, "pw")
	if err != nil {
		t.Fatal(err)
	}
	if res.Response != "got:pw\n" {
		t.Errorf("unexpected response %q", res.Response)
	}
}

func TestClientRejectsBadPassword(t *testing.T) {
	clientConn, serverConn := loopbackPair(t)
	serveFakeHost(t, serverConn, "secret")
	c, err := NewClient(Config{Host: "fake", User: "deploy", Password: "wrong"})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.handshake(clientConn); err == nil {
		t.Fatal("expected authentication failure")
	}
}

func TestUploadDownloadAndSkip(t *testing.T) {
	c := connectedClient(t, "secret")
	remote := filepath.Join(t.TempDir(), "nested", "app.env")

	skipped, err := c.Upload([]byte("A=1\n"), remote)
	if err != nil || skipped {
		t.Fatalf("first upload: skipped=%v err=%v", skipped, err)
	}
	skipped, err = c.Upload([]byte("A=1\n"), remote)
	if err != nil || !skipped {
		t.Fatalf("identical upload should be skipped: skipped=%v err=%v", skipped, err)
	}

	data, err := c.Download(remote)
	if err != nil || string(data) != "A=1\n" {
		t.Fatalf("download: %q %v", data, err)
	}

	if err := c.Delete(remote); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(remote); !os.IsNotExist(err) {
		t.Errorf("remote file should be gone")
	}
}

func TestUploadRewritesChangedContent(t *testing.T) {
	c := connectedClient(t, "secret")
	remote := filepath.Join(t.TempDir(), "app.env")

	for _, content := range []string{"A=1\n", "A=22\n", "A=33\n"} {
		skipped, err := c.Upload([]byte(content), remote)
		if err != nil || skipped {
			t.Fatalf("upload %q: skipped=%v err=%v", content, skipped, err)
		}
		data, err := os.ReadFile(remote)
		if err != nil || string(data) != content {
			t.Fatalf("remote holds %q after uploading %q (%v)", data, content, err)
		}
	}
}

func TestNewClientRequiresAuth(t *testing.T) {
	if _, err := NewClient(Config{Host: "h", User: "u"}); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(Config{Host: "h", User: "u", PrivateKey: []byte("not a key")}); err == nil {
		t.Error("expected error for unparsable key without password")
	}
	if _, err := NewClient(Config{Host: "h", User: "u", Password: "pw", PrivateKey: []byte("not a key")}); err != nil {
		t.Errorf("password should still allow a client: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c, err := NewClient(Config{Host: "h", User: "u", Password: "pw"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := c.Close(); err != nil {
			t.Fatalf("close %d on unconnected client: %v", i, err)
		}
	}

	connected := connectedClient(t, "secret")
	if err := connected.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := connected.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, _, _, err := connected.Run(context.Background(), "echo x", ""); err == nil {
		t.Error("run after close should fail")
	}
}
