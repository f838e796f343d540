package approval

import (
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	defaultMaxFileBytes = 1 << 20 // 1 MiB per artifact
	defaultMaxFiles     = 200
)

// systemRoots are directories that must never be used as an artifact root.
var systemRoots = []string{
	"/", "/etc", "/usr", "/bin", "/sbin", "/sys", "/proc", "/dev", "/boot", "/root",
}

// ArtifactStore renders approval artifacts (HTML and JSON) into a bounded,
// path-validated directory.
type ArtifactStore struct {
	root         string
	maxFileBytes int
	maxFiles     int
}

// NewArtifactStore validates and creates the artifact directory. System
// paths are rejected; /var is rejected except under /var/tmp and /var/log.
func NewArtifactStore(root string) (*ArtifactStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	abs = filepath.Clean(abs)

	if err := checkRoot(abs); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &ArtifactStore{
		root:         abs,
		maxFileBytes: defaultMaxFileBytes,
		maxFiles:     defaultMaxFiles,
	}, nil
}

func checkRoot(abs string) error {
	for _, sys := range systemRoots {
		if abs == sys {
			return fmt.Errorf("artifact root %s is a system path", abs)
		}
	}
	if abs == "/var" || (strings.HasPrefix(abs, "/var/") &&
		!strings.HasPrefix(abs, "/var/tmp") && !strings.HasPrefix(abs, "/var/log")) {
		return fmt.Errorf("artifact root %s is a system path", abs)
	}
	return nil
}

// Write renders both artifacts for a request. Filenames derive from the
// unique request id, so concurrent approvals never contend on a name.
func (s *ArtifactStore) Write(req *Request) (htmlPath, jsonPath string, err error) {
	htmlPath, err = s.writeFile(req.RequestID+".html", renderHTML(req))
	if err != nil {
		return "", "", err
	}
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal artifact: %w", err)
	}
	jsonPath, err = s.writeFile(req.RequestID+".json", data)
	if err != nil {
		return "", "", err
	}
	s.prune()
	return htmlPath, jsonPath, nil
}

// writeFile confirms the resolved target stays inside the root and bounds
// the file size.
func (s *ArtifactStore) writeFile(name string, content []byte) (string, error) {
	target := filepath.Clean(filepath.Join(s.root, name))
	if target != s.root && !strings.HasPrefix(target, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact %q escapes root", name)
	}
	if len(content) > s.maxFileBytes {
		return "", fmt.Errorf("artifact %q exceeds size bound (%d bytes)", name, len(content))
	}
	if err := os.WriteFile(target, content, 0o600); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return target, nil
}

// prune removes oldest-mtime files once the count cap is exceeded.
// Best-effort and tolerant of concurrent writers.
func (s *ArtifactStore) prune() {
	entries, err := os.ReadDir(s.root)
	if err != nil || len(entries) <= s.maxFiles {
		return
	}

	type aged struct {
		name  string
		mtime int64
	}
	files := make([]aged, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, aged{e.Name(), info.ModTime().UnixNano()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime < files[j].mtime })

	for i := 0; i < len(files)-s.maxFiles; i++ {
		_ = os.Remove(filepath.Join(s.root, files[i].name))
	}
}

func renderHTML(req *Request) []byte {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\">")
	fmt.Fprintf(&b, "<title>Approval: %s</title></head><body>\n", html.EscapeString(req.ToolName))
	fmt.Fprintf(&b, "<h1>Approval required: %s</h1>\n", html.EscapeString(req.ToolName))
	fmt.Fprintf(&b, "<p>Request <code>%s</code>, session <code>%s</code></p>\n",
		html.EscapeString(req.RequestID), html.EscapeString(req.SessionID))

	if len(req.Arguments) > 0 {
		args, _ := json.MarshalIndent(req.Arguments, "", "  ")
		fmt.Fprintf(&b, "<h2>Arguments</h2>\n<pre>%s</pre>\n", html.EscapeString(string(args)))
	}

	b.WriteString("<h2>Required scopes</h2>\n<ul>\n")
	for _, s := range req.RequiredScopes {
		fmt.Fprintf(&b, "<li><code>%s</code></li>\n", html.EscapeString(s))
	}
	b.WriteString("</ul>\n</body></html>\n")
	return []byte(b.String())
}
