package strategy

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/tidwall/gjson"
)

type BuildRequest struct {
	Name string
	// Dir is the workspace holding main.go (and go.mod when the workspace
	// is its own module).
	Dir string
	// Output is the absolute path of the plugin file to produce.
	Output string
	// PluginPath must differ between builds so a rebuilt strategy can be
	// opened in a process that already loaded an older one.
	PluginPath string
}

// Builder compiles a workspace into a loadable module. The returned
// diagnostics are the compiler output, useful on failure.
type Builder interface {
	Build(ctx context.Context, req BuildRequest) (diagnostics string, err error)
}

// GoBuilder runs `go build -buildmode=plugin`.
type GoBuilder struct {
	GoBinary string
	Env      []string
}

func (b GoBuilder) Build(ctx context.Context, req BuildRequest) (string, error) {
	bin := strings.TrimSpace(b.GoBinary)
	if bin == "" {
		bin = "go"
	}
	args := []string{
		"build",
		"-buildmode=plugin",
		"-json",
		"-mod=mod",
		"-ldflags=-pluginpath=" + req.PluginPath,
		"-o", req.Output,
		".",
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = req.Dir
	cmd.Env = append(append(os.Environ(), "CGO_ENABLED=1"), b.Env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return collectDiagnostics(stdout.Bytes(), stderr.String()), err
}

// collectDiagnostics 从 `go build -json` 输出中提取 build-output 文本，非 JSON 行原样保留。
func collectDiagnostics(jsonOut []byte, stderr string) string {
	var b strings.Builder
	sc := bufio.NewScanner(bytes.NewReader(jsonOut))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			b.WriteString(line)
			b.WriteByte('\n')
			continue
		}
		ev := gjson.Parse(line)
		if ev.Get("Action").String() != "build-output" {
			continue
		}
		b.WriteString(ev.Get("Output").String())
	}
	if s := strings.TrimSpace(stderr); s != "" {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}
