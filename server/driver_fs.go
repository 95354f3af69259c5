package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// FSDriver serves a local directory.
//
// Every session gets its own os.Root handle on the directory, so paths
// (symlinks included) cannot reach outside it. One named account gets
// read-write access; anonymous logins, when enabled, are read-only.
type FSDriver struct {
	rootPath string

	user     string
	password string // plain text, compared in constant time
	hash     []byte // bcrypt, takes precedence over password

	anonymous bool
}

// FSDriverOption configures an FSDriver.
type FSDriverOption func(*FSDriver) error

// NewFSDriver returns a driver rooted at rootPath, which must be an
// existing directory. Without options nobody can log in.
//
//	driver, err := server.NewFSDriver("/srv/ftp",
//	    server.WithAccount("admin", "secret"),
//	    server.WithAnonymous(true),
//	)
func NewFSDriver(rootPath string, options ...FSDriverOption) (*FSDriver, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("root path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", rootPath)
	}

	d := &FSDriver{rootPath: rootPath}
	for _, opt := range options {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// WithAccount grants user read-write access with a plain-text password.
func WithAccount(user, password string) FSDriverOption {
	return func(d *FSDriver) error {
		if user == "" {
			return errors.New("account user name is empty")
		}
		d.user, d.password = user, password
		return nil
	}
}

// WithAccountHash is WithAccount with a bcrypt hash instead of the
// password, as printed by "ftpbridge hash-password".
func WithAccountHash(user, hash string) FSDriverOption {
	return func(d *FSDriver) error {
		if user == "" {
			return errors.New("account user name is empty")
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return fmt.Errorf("invalid password hash: %w", err)
		}
		d.user, d.hash = user, []byte(hash)
		return nil
	}
}

// WithAnonymous allows read-only logins as "anonymous" or "ftp" with any
// password.
func WithAnonymous(enable bool) FSDriverOption {
	return func(d *FSDriver) error {
		d.anonymous = enable
		return nil
	}
}

func isAnonymous(user string) bool {
	return user == "anonymous" || user == "ftp"
}

// Authenticate implements Driver.
func (d *FSDriver) Authenticate(user, pass string) (ClientContext, error) {
	readOnly := false
	switch {
	case d.user != "" && user == d.user:
		if !d.checkPassword(pass) {
			return nil, os.ErrPermission
		}
	case d.anonymous && isAnonymous(user):
		readOnly = true
	default:
		return nil, os.ErrPermission
	}

	root, err := os.OpenRoot(d.rootPath)
	if err != nil {
		return nil, err
	}
	return &fsContext{root: root, cwd: "/", readOnly: readOnly}, nil
}

func (d *FSDriver) checkPassword(pass string) bool {
	if d.hash != nil {
		return bcrypt.CompareHashAndPassword(d.hash, []byte(pass)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(d.password), []byte(pass)) == 1
}

// fsContext is one session's jailed view of the root directory.
type fsContext struct {
	root     *os.Root
	cwd      string // virtual, always absolute and clean
	readOnly bool
}

func (c *fsContext) Close() error {
	return c.root.Close()
}

// abs returns the cleaned virtual path for p.
func (c *fsContext) abs(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = path.Join(c.cwd, p)
	}
	return path.Clean("/" + p)
}

// rel converts p into a name relative to the root handle.
func (c *fsContext) rel(p string) string {
	r := strings.TrimPrefix(c.abs(p), "/")
	if r == "" {
		return "."
	}
	return r
}

func (c *fsContext) writable() error {
	if c.readOnly {
		return os.ErrPermission
	}
	return nil
}

func (c *fsContext) ChangeDir(p string) error {
	info, err := c.root.Stat(c.rel(p))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", p, os.ErrInvalid)
	}
	c.cwd = c.abs(p)
	return nil
}

func (c *fsContext) GetWd() string {
	return c.cwd
}

func (c *fsContext) MakeDir(p string) error {
	if err := c.writable(); err != nil {
		return err
	}
	return c.root.Mkdir(c.rel(p), 0o755)
}

func (c *fsContext) RemoveDir(p string) error {
	if err := c.writable(); err != nil {
		return err
	}
	info, err := c.root.Stat(c.rel(p))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", p, os.ErrInvalid)
	}
	return c.root.Remove(c.rel(p))
}

func (c *fsContext) DeleteFile(p string) error {
	if err := c.writable(); err != nil {
		return err
	}
	info, err := c.root.Lstat(c.rel(p))
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s: %w", p, os.ErrInvalid)
	}
	return c.root.Remove(c.rel(p))
}

func (c *fsContext) Rename(from, to string) error {
	if err := c.writable(); err != nil {
		return err
	}
	return c.root.Rename(c.rel(from), c.rel(to))
}

func (c *fsContext) ListDir(p string) ([]os.FileInfo, error) {
	f, err := c.root.Open(c.rel(p))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		if info, err := e.Info(); err == nil {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func (c *fsContext) GetFileInfo(p string) (os.FileInfo, error) {
	return c.root.Stat(c.rel(p))
}

func (c *fsContext) OpenFile(p string, flag int) (io.ReadWriteCloser, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		if err := c.writable(); err != nil {
			return nil, err
		}
	}
	return c.root.OpenFile(c.rel(p), flag, 0o644)
}
