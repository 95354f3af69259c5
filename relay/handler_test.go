package relay

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gonzalop/ftpbridge/ftp"
	"github.com/gonzalop/ftpbridge/internal/bufpool"
	"github.com/gonzalop/ftpbridge/internal/watchdog"
)

type testEnv struct {
	ftp  *fakeFTP
	http *httptest.Server
	logs *logBuffer
	h    *Handler
}

func newTestEnv(t *testing.T, fake *fakeFTP, paths []string, opts ...Option) *testEnv {
	t.Helper()
	logs := &logBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	opts = append([]Option{
		WithLogger(logger),
		WithFTPOptions(ftp.WithTimeout(2*time.Second), ftp.WithStallTimeout(2*time.Second)),
	}, opts...)

	h, err := New(Upstream{Addr: fake.addr, Username: "user", Password: "secret"}, paths, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	fake.start()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testEnv{ftp: fake, http: srv, logs: logs, h: h}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := e.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func readAll(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return b
}

func randomBytes(n int) []byte {
	r := rand.New(rand.NewPCG(7, 11))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.UintN(256))
	}
	return b
}

func TestRelay_ByteExact(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		path        string
		size        int
		contentType string
		disposition string
	}{
		{"generic binary", "backup/data.bin", 1 << 20, "application/octet-stream", "attachment; filename=data.bin"},
		{"audio", "music/song.mp3", 100_000, "audio/mpeg", ""},
		{"video", "clips/intro.MKV", 70_001, "video/x-matroska", ""},
		{"pdf", "docs/manual.pdf", 12_345, "application/pdf", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fake := newFakeFTP(t)
			payload := randomBytes(tt.size)
			fake.put(tt.path, payload)
			env := newTestEnv(t, fake, []string{tt.path})

			resp := env.do(t, http.MethodGet, "/"+tt.path, nil, nil)
			body := readAll(t, resp)

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}
			if !bytes.Equal(body, payload) {
				t.Fatalf("body differs: got %d bytes, want %d", len(body), len(payload))
			}
			if got := resp.Header.Get("Content-Type"); got != tt.contentType {
				t.Errorf("Content-Type = %q, want %q", got, tt.contentType)
			}
			if got := resp.Header.Get("Content-Disposition"); got != tt.disposition {
				t.Errorf("Content-Disposition = %q, want %q", got, tt.disposition)
			}
			if got := resp.Header.Get("Accept-Ranges"); got != "bytes" {
				t.Errorf("Accept-Ranges = %q", got)
			}
			if !slices.Equal(resp.TransferEncoding, []string{"chunked"}) {
				t.Errorf("TransferEncoding = %v, want chunked", resp.TransferEncoding)
			}
			fake.waitClosed(t, 1)
		})
	}
}

func TestRelay_Range(t *testing.T) {
	t.Parallel()
	payload := randomBytes(1000)
	tests := []struct {
		name         string
		rangeHeader  string
		wantStatus   int
		wantRange    string
		wantBody     []byte
		wantCommands []string
	}{
		{
			name:         "closed range",
			rangeHeader:  "bytes=100-199",
			wantStatus:   http.StatusPartialContent,
			wantRange:    "bytes 100-199/1000",
			wantBody:     payload[100:200],
			wantCommands: []string{"USER", "PASS", "TYPE", "SIZE", "PASV", "REST", "RETR", "QUIT"},
		},
		{
			name:        "open ended",
			rangeHeader: "bytes=900-",
			wantStatus:  http.StatusPartialContent,
			wantRange:   "bytes 900-999/1000",
			wantBody:    payload[900:],
		},
		{
			name:        "suffix",
			rangeHeader: "bytes=-10",
			wantStatus:  http.StatusPartialContent,
			wantRange:   "bytes 990-999/1000",
			wantBody:    payload[990:],
		},
		{
			name:        "end past size",
			rangeHeader: "bytes=0-5000",
			wantStatus:  http.StatusPartialContent,
			wantRange:   "bytes 0-999/1000",
			wantBody:    payload,
		},
		{
			name:        "multiple ranges ignored",
			rangeHeader: "bytes=0-1,5-6",
			wantStatus:  http.StatusOK,
			wantBody:    payload,
		},
		{
			name:        "unsatisfiable",
			rangeHeader: "bytes=2000-",
			wantStatus:  http.StatusRequestedRangeNotSatisfiable,
			wantRange:   "bytes */1000",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fake := newFakeFTP(t)
			fake.put("file.bin", payload)
			env := newTestEnv(t, fake, []string{"file.bin"})

			resp := env.do(t, http.MethodGet, "/file.bin", nil, http.Header{"Range": {tt.rangeHeader}})
			body := readAll(t, resp)

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if got := resp.Header.Get("Content-Range"); got != tt.wantRange {
				t.Errorf("Content-Range = %q, want %q", got, tt.wantRange)
			}
			if tt.wantBody != nil && !bytes.Equal(body, tt.wantBody) {
				t.Errorf("body = %d bytes, want %d", len(body), len(tt.wantBody))
			}
			fake.waitClosed(t, 1)
			if tt.wantCommands != nil {
				if got := fake.commands(); !slices.Equal(got, tt.wantCommands) {
					t.Errorf("commands = %v, want %v", got, tt.wantCommands)
				}
			}
		})
	}
}

func TestRelay_RangeUnknownSize(t *testing.T) {
	t.Parallel()
	payload := randomBytes(1000)

	t.Run("within the file", func(t *testing.T) {
		t.Parallel()
		fake := newFakeFTP(t)
		fake.noSize = true
		fake.put("file.bin", payload)
		env := newTestEnv(t, fake, []string{"file.bin"})

		resp := env.do(t, http.MethodGet, "/file.bin", nil, http.Header{"Range": {"bytes=100-199"}})
		body := readAll(t, resp)
		if resp.StatusCode != http.StatusPartialContent {
			t.Fatalf("status = %d, want 206", resp.StatusCode)
		}
		if got := resp.Header.Get("Content-Range"); got != "bytes 100-199/*" {
			t.Errorf("Content-Range = %q", got)
		}
		if !bytes.Equal(body, payload[100:200]) {
			t.Errorf("body = %d bytes, want 100", len(body))
		}
		fake.waitClosed(t, 1)
	})

	t.Run("past the end", func(t *testing.T) {
		t.Parallel()
		fake := newFakeFTP(t)
		fake.noSize = true
		fake.put("file.bin", payload)
		env := newTestEnv(t, fake, []string{"file.bin"})

		req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/file.bin", nil)
		req.Header.Set("Range", "bytes=900-1999")
		resp, err := env.http.Client().Do(req)
		if err == nil {
			if got := resp.Header.Get("Content-Range"); got != "bytes 900-1999/*" {
				t.Errorf("Content-Range = %q", got)
			}
			_, err = io.ReadAll(resp.Body)
			resp.Body.Close()
		}
		if err == nil {
			t.Fatal("short range reached the client as a complete response")
		}

		fake.waitClosed(t, 1)
		if !strings.Contains(env.logs.String(), "msg=transfer_unconfirmed") {
			t.Errorf("shortfall not logged:\n%s", env.logs)
		}
	})
}

func TestRelay_ZeroLengthFile(t *testing.T) {
	t.Parallel()
	fake := newFakeFTP(t)
	fake.put("empty.txt", nil)
	env := newTestEnv(t, fake, []string{"empty.txt"})

	resp := env.do(t, http.MethodGet, "/empty.txt", nil, nil)
	body := readAll(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(body) != 0 {
		t.Errorf("body = %q, want empty", body)
	}
	if !slices.Equal(resp.TransferEncoding, []string{"chunked"}) {
		t.Errorf("TransferEncoding = %v, want chunked", resp.TransferEncoding)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	fake.waitClosed(t, 1)
	if !strings.Contains(env.logs.String(), "msg=transfer_complete") {
		t.Errorf("transfer_complete not logged:\n%s", env.logs)
	}
}

// A path outside the allowlist is rejected without touching the FTP server.
func TestRelay_NotAllowed(t *testing.T) {
	t.Parallel()
	fake := newFakeFTP(t)
	fake.put("secret.txt", []byte("x"))
	env := newTestEnv(t, fake, []string{"public.txt"})

	for _, p := range []string{"/secret.txt", "/public.txt/", "/PUBLIC.TXT", "/download/secret.txt"} {
		resp := env.do(t, http.MethodGet, p, nil, nil)
		readAll(t, resp)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", p, resp.StatusCode)
		}
	}
	if n := fake.accepted.Load(); n != 0 {
		t.Errorf("FTP connections = %d, want 0", n)
	}
}

func TestRelay_MissingOnServer(t *testing.T) {
	t.Parallel()
	fake := newFakeFTP(t)
	env := newTestEnv(t, fake, []string{"gone.mp3"})

	resp := env.do(t, http.MethodGet, "/gone.mp3", nil, nil)
	readAll(t, resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	fake.waitClosed(t, 1)
}

// The greeting never arrives: the request fails with 500 and the control
// socket is closed.
func TestRelay_BannerTimeout(t *testing.T) {
	t.Parallel()
	fake := newFakeFTP(t)
	fake.banner = ""
	env := newTestEnv(t, fake, []string{"song.mp3"}, WithFTPOptions(ftp.WithTimeout(200*time.Millisecond)))

	start := time.Now()
	resp := env.do(t, http.MethodGet, "/song.mp3", nil, nil)
	readAll(t, resp)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("request took %v", elapsed)
	}
	fake.waitClosed(t, 1)
	if !strings.Contains(env.logs.String(), "msg=ftp_connect_failed") {
		t.Errorf("connect failure not logged:\n%s", env.logs)
	}
}

// The HTTP client goes away mid-stream: both FTP sockets are closed and
// nothing is logged as an error.
func TestRelay_ClientDisconnect(t *testing.T) {
	t.Parallel()
	fake := newFakeFTP(t)
	fake.put("radio.mp3", randomBytes(8192))
	fake.endless["radio.mp3"] = true
	env := newTestEnv(t, fake, []string{"radio.mp3"})

	resp := env.do(t, http.MethodGet, "/radio.mp3", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if _, err := io.ReadFull(resp.Body, make([]byte, 64<<10)); err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	resp.Body.Close()

	// The fake only finishes the connection after its data writes failed
	// and the client closed the control channel.
	fake.waitClosed(t, 1)

	logs := env.logs.String()
	if strings.Contains(logs, "level=ERROR") {
		t.Errorf("client disconnect logged as error:\n%s", logs)
	}
}

// A data channel that goes quiet after the status was committed must not
// look like a complete download to the client.
func TestRelay_StallAfterCommit(t *testing.T) {
	t.Parallel()
	fake := newFakeFTP(t)
	fake.put("big.bin", randomBytes(1000))
	fake.stall["big.bin"] = true
	env := newTestEnv(t, fake, []string{"big.bin"},
		WithFTPOptions(ftp.WithStallTimeout(300*time.Millisecond)))

	req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/big.bin", nil)
	resp, err := env.http.Client().Do(req)
	if err == nil {
		_, err = io.ReadAll(resp.Body)
		resp.Body.Close()
	}
	if err == nil {
		t.Fatal("stalled transfer reached the client as a complete response")
	}

	fake.waitClosed(t, 1)
	if !strings.Contains(env.logs.String(), "msg=transfer_failed") {
		t.Errorf("stall not logged:\n%s", env.logs)
	}
}

func TestRelay_BufferBudgetExhausted(t *testing.T) {
	t.Parallel()
	pool, err := bufpool.New(1024)
	if err != nil {
		t.Fatal(err)
	}
	fake := newFakeFTP(t)
	fake.put("a.bin", []byte("abc"))
	env := newTestEnv(t, fake, []string{"a.bin"}, WithBufferPool(pool))

	resp := env.do(t, http.MethodGet, "/a.bin", nil, nil)
	readAll(t, resp)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if n := fake.accepted.Load(); n != 0 {
		t.Errorf("FTP connections = %d, want 0", n)
	}
}

func TestRelay_Watchdog(t *testing.T) {
	t.Parallel()
	const task = "http_relay"

	t.Run("registers and unregisters", func(t *testing.T) {
		t.Parallel()
		wdt := watchdog.New(time.Minute)
		fake := newFakeFTP(t)
		fake.put("a.bin", randomBytes(300_000))
		env := newTestEnv(t, fake, []string{"a.bin"}, WithWatchdog(wdt, task, 64<<10))

		resp := env.do(t, http.MethodGet, "/a.bin", nil, nil)
		readAll(t, resp)
		fake.waitClosed(t, 1)
		waitUnregistered(t, wdt, task+"/1")
	})

	t.Run("keeps an outer registration", func(t *testing.T) {
		t.Parallel()
		wdt := watchdog.New(time.Minute)
		wdt.Add(task)
		fake := newFakeFTP(t)
		fake.put("a.bin", randomBytes(1000))
		env := newTestEnv(t, fake, []string{"a.bin"}, WithWatchdog(wdt, task, 64<<10))

		resp := env.do(t, http.MethodGet, "/a.bin", nil, nil)
		readAll(t, resp)
		fake.waitClosed(t, 1)
		waitUnregistered(t, wdt, task+"/1")
		if !wdt.Registered(task) {
			t.Error("relay removed a registration it did not make")
		}
	})

	t.Run("concurrent relays keep their own task", func(t *testing.T) {
		t.Parallel()
		wdt := watchdog.New(300 * time.Millisecond)
		fake := newFakeFTP(t)
		fake.put("live.mp3", randomBytes(8192))
		fake.endless["live.mp3"] = true
		env := newTestEnv(t, fake, []string{"live.mp3"}, WithWatchdog(wdt, task, 16<<10))

		first := env.do(t, http.MethodGet, "/live.mp3", nil, nil)
		if _, err := io.ReadFull(first.Body, make([]byte, 64<<10)); err != nil {
			t.Fatalf("reading first stream: %v", err)
		}
		second := env.do(t, http.MethodGet, "/live.mp3", nil, nil)
		if _, err := io.ReadFull(second.Body, make([]byte, 64<<10)); err != nil {
			t.Fatalf("reading second stream: %v", err)
		}

		first.Body.Close()
		fake.waitClosed(t, 1)
		waitUnregistered(t, wdt, task+"/1")

		drained := make(chan struct{})
		go func() {
			defer close(drained)
			_, _ = io.Copy(io.Discard, second.Body)
		}()
		time.Sleep(3 * wdt.Timeout())

		if !wdt.Registered(task + "/2") {
			t.Error("second relay lost its registration when the first ended")
		}
		if expired := wdt.Expired(); len(expired) != 0 {
			t.Errorf("Expired() = %v while the second relay streams", expired)
		}

		second.Body.Close()
		<-drained
		fake.waitClosed(t, 1)
		waitUnregistered(t, wdt, task+"/2")
	})
}

// waitUnregistered waits for a finished handler to run its deferred cleanup.
func waitUnregistered(t *testing.T, wdt *watchdog.Watchdog, task string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for wdt.Registered(task) {
		if time.Now().After(deadline) {
			t.Fatalf("task %q still registered", task)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestList(t *testing.T) {
	t.Parallel()
	fake := newFakeFTP(t)
	fake.put("/a.txt", []byte("abc"))
	fake.put("/b.mp3", []byte("12345"))
	env := newTestEnv(t, fake, nil)

	resp := env.do(t, http.MethodGet, "/list", nil, nil)
	body := readAll(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	var files []FileInfo
	if err := json.Unmarshal(body, &files); err != nil {
		t.Fatalf("decoding %s: %v", body, err)
	}
	want := []FileInfo{{Name: "a.txt", Size: 3}, {Name: "b.mp3", Size: 5}}
	if !slices.Equal(files, want) {
		t.Errorf("files = %+v, want %+v", files, want)
	}
	fake.waitClosed(t, 1)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		file        string
		deleteReply string
		wantStatus  int
		wantGone    bool
	}{
		{"existing", "old.txt", "", http.StatusOK, true},
		{"nonexistent", "nonexistent.txt", "", http.StatusNotFound, false},
		{"server busy", "old.txt", "450 File busy", http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fake := newFakeFTP(t)
			fake.put("/old.txt", []byte("x"))
			fake.deleteReply = tt.deleteReply
			env := newTestEnv(t, fake, nil)

			resp := env.do(t, http.MethodDelete, "/delete/"+tt.file, nil, nil)
			body := readAll(t, resp)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, body)
			}
			if tt.wantStatus == http.StatusOK && string(body) != "File deleted" {
				t.Errorf("body = %q", body)
			}
			fake.waitClosed(t, 1)
			if _, ok := fake.file("/old.txt"); ok == tt.wantGone {
				t.Errorf("file present = %v after delete", ok)
			}
			if cmds := fake.commands(); cmds[len(cmds)-1] != "QUIT" {
				t.Errorf("session not closed with QUIT: %v", cmds)
			}
		})
	}
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename == "" {
		if err := mw.WriteField(field, string(content)); err != nil {
			t.Fatal(err)
		}
	} else {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	t.Parallel()
	content := randomBytes(200_000)

	t.Run("stored", func(t *testing.T) {
		t.Parallel()
		fake := newFakeFTP(t)
		env := newTestEnv(t, fake, nil, WithUploadDir("/uploads"))
		body, ctype := multipartBody(t, "file", `C:\Users\me\report.pdf`, content)

		resp := env.do(t, http.MethodPost, "/upload", body, http.Header{"Content-Type": {ctype}})
		out := readAll(t, resp)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d: %s", resp.StatusCode, out)
		}
		fake.waitClosed(t, 1)
		got, ok := fake.file("/uploads/report.pdf")
		if !ok || !bytes.Equal(got, content) {
			t.Errorf("stored %d bytes (present %v), want %d", len(got), ok, len(content))
		}
	})

	t.Run("too large leaves no partial file", func(t *testing.T) {
		t.Parallel()
		fake := newFakeFTP(t)
		env := newTestEnv(t, fake, nil, WithUploadDir("/uploads"), WithMaxUpload(50_000))
		body, ctype := multipartBody(t, "file", "report.pdf", content)

		req, err := http.NewRequest(http.MethodPost, env.http.URL+"/upload", body)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Content-Type", ctype)
		// The server may hang up before the whole body is sent.
		if resp, err := env.http.Client().Do(req); err == nil {
			readAll(t, resp)
			if resp.StatusCode != http.StatusRequestEntityTooLarge {
				t.Errorf("status = %d, want 413", resp.StatusCode)
			}
		}

		fake.waitClosed(t, 1)
		if got, ok := fake.file("/uploads/report.pdf"); ok {
			t.Errorf("partial upload of %d bytes left on the server", len(got))
		}
		if !slices.Contains(fake.commands(), "DELE") {
			t.Errorf("commands = %v, want a DELE after the cut-short STOR", fake.commands())
		}
	})

	t.Run("no file part", func(t *testing.T) {
		t.Parallel()
		fake := newFakeFTP(t)
		env := newTestEnv(t, fake, nil)
		body, ctype := multipartBody(t, "comment", "", []byte("hello"))

		resp := env.do(t, http.MethodPost, "/upload", body, http.Header{"Content-Type": {ctype}})
		readAll(t, resp)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
		if n := fake.accepted.Load(); n != 0 {
			t.Errorf("FTP connections = %d, want 0", n)
		}
	})

	t.Run("not multipart", func(t *testing.T) {
		t.Parallel()
		fake := newFakeFTP(t)
		env := newTestEnv(t, fake, nil)
		resp := env.do(t, http.MethodPost, "/upload", strings.NewReader("raw"), http.Header{"Content-Type": {"text/plain"}})
		readAll(t, resp)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestDownloadExposed(t *testing.T) {
	t.Parallel()
	fake := newFakeFTP(t)
	fake.put("/media/a.txt", []byte("hello"))
	env := newTestEnv(t, fake, nil, WithListDir("/media"), WithExposeListed(true))

	resp := env.do(t, http.MethodGet, "/download/a.txt", nil, nil)
	body := readAll(t, resp)
	if resp.StatusCode != http.StatusOK || string(body) != "hello" {
		t.Fatalf("status = %d, body = %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Accept-Ranges = %q", got)
	}
	fake.waitClosed(t, 1)
}

func TestIndexAndMethods(t *testing.T) {
	t.Parallel()
	fake := newFakeFTP(t)
	env := newTestEnv(t, fake, nil)

	resp := env.do(t, http.MethodGet, "/", nil, nil)
	body := readAll(t, resp)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "FTP File Manager") {
		t.Errorf("GET / = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/html") {
		t.Errorf("Content-Type = %q", got)
	}

	resp = env.do(t, http.MethodPost, "/list", nil, nil)
	readAll(t, resp)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /list = %d, want 405", resp.StatusCode)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New(Upstream{}, nil); err == nil {
		t.Error("New accepted an empty upstream address")
	}
	if _, err := New(Upstream{Addr: "127.0.0.1"}, nil, WithWatchdog(nil, "", 0)); err == nil {
		t.Error("New accepted an empty watchdog task")
	}
	if _, err := New(Upstream{Addr: "127.0.0.1"}, nil, WithMaxBandwidth(-1)); err == nil {
		t.Error("New accepted a negative bandwidth")
	}
}
