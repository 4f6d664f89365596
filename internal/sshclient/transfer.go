package sshclient

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/sftp"
)

func (c *Client) sftpClient() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, fmt.Errorf("SSH client not connected")
	}
	if c.sftp == nil {
		sc, err := sftp.NewClient(c.client)
		if err != nil {
			return nil, fmt.Errorf("failed to start sftp: %v", err)
		}
		c.sftp = sc
	}
	return c.sftp, nil
}

// Upload writes content to remotePath, creating parent directories. When the
// remote file already has the same xxhash the write is skipped and skipped
// is true.
func (c *Client) Upload(content []byte, remotePath string) (skipped bool, err error) {
	sc, err := c.sftpClient()
	if err != nil {
		return false, err
	}

	if sameRemote(sc, remotePath, content) {
		return true, nil
	}

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sc.MkdirAll(dir); err != nil {
			return false, fmt.Errorf("failed to create remote directory %s: %v", dir, err)
		}
	}

	f, err := sc.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return false, fmt.Errorf("failed to open remote file %s: %v", remotePath, err)
	}
	if _, err := io.Copy(f, bytes.NewReader(content)); err != nil {
		f.Close()
		return false, fmt.Errorf("failed to write remote file %s: %v", remotePath, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("failed to close remote file %s: %v", remotePath, err)
	}
	return false, nil
}

// Download returns the content of remotePath.
func (c *Client) Download(remotePath string) ([]byte, error) {
	sc, err := c.sftpClient()
	if err != nil {
		return nil, err
	}
	data, err := readRemote(sc, remotePath)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %v", remotePath, err)
	}
	return data, nil
}

// Delete removes remotePath.
func (c *Client) Delete(remotePath string) error {
	sc, err := c.sftpClient()
	if err != nil {
		return err
	}
	if err := sc.Remove(remotePath); err != nil {
		return fmt.Errorf("failed to delete %s: %v", remotePath, err)
	}
	return nil
}

// sameRemote reports whether remotePath already holds content. The file is
// only read when its size matches.
func sameRemote(sc *sftp.Client, remotePath string, content []byte) bool {
	info, err := sc.Stat(remotePath)
	if err != nil || !info.Mode().IsRegular() || info.Size() != int64(len(content)) {
		return false
	}
	remote, err := readRemote(sc, remotePath)
	if err != nil {
		return false
	}
	return xxhash.Sum64(remote) == xxhash.Sum64(content)
}

func readRemote(sc *sftp.Client, remotePath string) ([]byte, error) {
	f, err := sc.Open(remotePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
