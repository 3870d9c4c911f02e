// Package transport moves single files between the run's working directory
// and the outside world. The backing mechanism is picked from the URI scheme;
// there are no retries, and an interrupted transfer may leave a partial file
// behind for the next run's fetchIfAbsent to skip over.
package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"
)

const httpTimeout = 5 * time.Minute

// Transport performs fetches and puts. The zero value is not usable; use New.
type Transport struct {
	log    *slog.Logger
	client *http.Client
	// awsBin is the object-store CLI. Overridable for tests.
	awsBin string
}

// New creates a Transport logging through log.
func New(log *slog.Logger) *Transport {
	return &Transport{
		log:    log,
		client: &http.Client{Timeout: httpTimeout},
		awsBin: "aws",
	}
}

// SetObjectStoreCLI overrides the object-store CLI binary. Tests point this
// at a stub script.
func (t *Transport) SetObjectStoreCLI(bin string) { t.awsBin = bin }

// FetchIfAbsent copies uri to dest unless dest already exists. An existing
// destination is trusted; re-validating large graph inputs on every run is
// the caller's problem, not ours.
func (t *Transport) FetchIfAbsent(ctx context.Context, uri, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		t.log.Info("destination exists, skipping fetch", "dest", dest)
		return nil
	}

	t.log.Info("fetching", "uri", uri, "dest", dest)
	switch scheme(uri) {
	case "s3":
		return t.objectStoreCopy(ctx, uri, dest)
	case "http", "https":
		return t.httpFetch(ctx, uri, dest)
	default:
		return localCopy(strings.TrimPrefix(uri, "file://"), dest)
	}
}

// PutFile uploads path to uri and reports success. Upload failures are
// logged rather than raised; callers that treat an upload as fatal check the
// returned boolean.
func (t *Transport) PutFile(ctx context.Context, path, uri string) bool {
	t.log.Info("uploading", "path", path, "uri", uri)

	var err error
	switch scheme(uri) {
	case "s3":
		err = t.objectStoreCopy(ctx, path, uri)
	default:
		err = localCopy(path, strings.TrimPrefix(uri, "file://"))
	}

	if err != nil {
		t.log.Warn("upload failed", "path", path, "uri", uri, "error", err)
		return false
	}
	return true
}

// objectStoreCopy shells out to the object-store CLI for s3 URIs in either
// direction. The CLI carries the credential and multipart handling we do not
// want to own.
func (t *Transport) objectStoreCopy(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, t.awsBin, "s3", "cp", src, dst)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s s3 cp %s %s: %w: %s", t.awsBin, src, dst, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// httpFetch streams a URL to a local file.
func (t *Transport) httpFetch(ctx context.Context, uri, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s: status %d", uri, resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return nil
}

func localCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return nil
}

func scheme(uri string) string {
	if i := strings.Index(uri, "://"); i > 0 {
		return uri[:i]
	}
	return ""
}
