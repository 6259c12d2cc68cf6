package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd []string
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execResponse struct {
	PCMBase64       string  `json:"pcm_base64"`
	DurationSeconds float64 `json:"duration_seconds"`
	Error           *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Error codes an engine subprocess may report. Invalid input and exhausted
// quota abort the chunk; everything else is retried.
const (
	codeInvalidInput   = "invalid_input"
	codeQuotaExhausted = "quota_exhausted"
)

// NewExecSynth wraps an external synthesis engine invoked per request. The
// engine reads one JSON request on stdin and writes one JSON response on
// stdout with base64-encoded 16-bit PCM.
func NewExecSynth(command string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synthesis command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synthesis command empty")
	}
	return &execSynth{cmd: args}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req Request) (Result, error) {
	payload, err := json.Marshal(execRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		SampleRate: req.SampleRate,
		Channels:   req.Channels,
	})
	if err != nil {
		return Result{}, Fatal("encode request", err)
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, Transient("engine timeout", ctxErr)
		}
		return Result{}, Transient("engine exited", fmt.Errorf("%w: %s", err, stderr.String()))
	}

	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, Transient("decode response", err)
	}
	if resp.Error != nil {
		engineErr := errors.New(resp.Error.Message)
		switch resp.Error.Code {
		case codeInvalidInput, codeQuotaExhausted:
			return Result{}, Fatal(resp.Error.Code, engineErr)
		default:
			return Result{}, Transient(resp.Error.Code, engineErr)
		}
	}

	pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
	if err != nil {
		return Result{}, Transient("decode pcm", err)
	}
	if len(pcm) == 0 {
		return Result{}, Transient("empty response", errors.New("engine returned no audio"))
	}

	duration := resp.DurationSeconds
	if duration <= 0 {
		duration = float64(len(pcm)/2/req.Channels) / float64(req.SampleRate)
	}

	return Result{
		PCM:        pcm,
		SampleRate: req.SampleRate,
		Channels:   req.Channels,
		Duration:   duration,
	}, nil
}
