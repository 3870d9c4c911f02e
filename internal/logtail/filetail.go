package logtail

import (
	"bufio"
	"os"
)

// FileTail feeds a Window from a log file that an external process writes to
// directly. The file is re-read on every poll rather than streamed; the
// engine re-opens and rotates nothing, so a full re-read stays cheap relative
// to the poll interval.
type FileTail struct {
	path   string
	window *Window
}

// NewFileTail creates a tailer for path backed by a window of the given
// capacity.
func NewFileTail(path string, capacity int) *FileTail {
	return &FileTail{
		path:   path,
		window: NewWindow(capacity),
	}
}

// Window exposes the backing window for pattern queries.
func (f *FileTail) Window() *Window { return f.window }

// Reload re-reads the file and replaces the window contents with its most
// recent lines. A missing file is not an error; the engine may not have
// opened its log yet.
func (f *FileTail) Reload() error {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	f.window.Replace(lines)
	return nil
}

// Contents returns the entire file, not just the retained window. Failure
// diagnostics upload the full log.
func (f *FileTail) Contents() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}
