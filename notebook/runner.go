package notebook

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/golang/glog"
)

// ExecutionService runs code-cell content and produces an output.
// It never raises a fault into the caller: any internal failure,
// timeout, or missing runtime is mapped to an error-kind output.
type ExecutionService interface {
	Execute(ctx context.Context, source string, language string) *Output
}

type SubprocessRunnerSettings struct {
	// language tag -> interpreter argv. The cell source is appended as
	// the final argument.
	Interpreters map[string][]string
	// cap on combined interpreter output retained per execution
	MaxOutputBytes int
}

func DefaultSubprocessRunnerSettings() *SubprocessRunnerSettings {
	return &SubprocessRunnerSettings{
		Interpreters: map[string][]string{
			"python":     []string{"python3", "-c"},
			"javascript": []string{"node", "-e"},
			"shell":      []string{"bash", "-c"},
		},
		MaxOutputBytes: 512 * 1024,
	}
}

// SubprocessRunner executes cell content in an interpreter subprocess.
// One process per execution, bounded by the caller's context deadline.
// The process is isolated from the room core: a crashed or hung
// interpreter surfaces as an error output, never as a fault.
type SubprocessRunner struct {
	settings *SubprocessRunnerSettings
}

func NewSubprocessRunnerWithDefaults() *SubprocessRunner {
	return NewSubprocessRunner(DefaultSubprocessRunnerSettings())
}

func NewSubprocessRunner(settings *SubprocessRunnerSettings) *SubprocessRunner {
	return &SubprocessRunner{
		settings: settings,
	}
}

func (self *SubprocessRunner) Execute(ctx context.Context, source string, language string) *Output {
	argv, ok := self.settings.Interpreters[language]
	if !ok || len(argv) == 0 {
		return NewErrorOutput(fmt.Sprintf("no interpreter configured for language %q", language))
	}

	cmd := exec.CommandContext(ctx, argv[0], append(append([]string{}, argv[1:]...), source)...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		// best effort abandon. CommandContext already killed the process.
		glog.V(1).Infof("[run]timeout lang=%s\n", language)
		return NewErrorOutput("execution timed out")
	}

	if err != nil {
		diagnostic := strings.TrimSpace(self.truncate(stderr.String()))
		if diagnostic == "" {
			diagnostic = err.Error()
		}
		glog.V(2).Infof("[run]error lang=%s = %s\n", language, err)
		return NewErrorOutput(diagnostic)
	}

	return NewTextOutput(self.truncate(stdout.String()))
}

func (self *SubprocessRunner) truncate(s string) string {
	if self.settings.MaxOutputBytes <= 0 || len(s) <= self.settings.MaxOutputBytes {
		return s
	}
	return s[0:self.settings.MaxOutputBytes] + "\n... output truncated"
}

// EchoRunner is a trivial service for demos and tests: the output is
// the source text itself.
type EchoRunner struct {
}

func NewEchoRunner() *EchoRunner {
	return &EchoRunner{}
}

func (self *EchoRunner) Execute(ctx context.Context, source string, language string) *Output {
	return NewTextOutput(source)
}
