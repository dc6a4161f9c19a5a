// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/tank-scada/pkg/models"
)

// ProcessConfig names the programs a ProcessSource runs. Each command is an
// argv slice; write commands get one extra JSON argument.
type ProcessConfig struct {
	ReadCommand          []string
	WriteSetpointCommand []string
	WriteButtonsCommand  []string
	// Env is appended to the inherited environment of every program.
	Env []string
	// Timeout bounds one program run. 0 means only the caller's context applies.
	Timeout time.Duration
}

// ProcessSource runs external programs that print one JSON object per call.
type ProcessSource struct {
	cfg ProcessConfig
}

// NewProcessSource validates the commands and returns a source.
func NewProcessSource(cfg ProcessConfig) (*ProcessSource, error) {
	var errs []error

	if len(cfg.ReadCommand) == 0 {
		errs = append(errs, errors.New("read command is empty"))
	}

	if len(cfg.WriteSetpointCommand) == 0 {
		errs = append(errs, errors.New("setpoint write command is empty"))
	}

	if len(cfg.WriteButtonsCommand) == 0 {
		errs = append(errs, errors.New("button write command is empty"))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &ProcessSource{cfg: cfg}, nil
}

// Read runs the read program and parses the first line it prints.
func (p *ProcessSource) Read(ctx context.Context) (Snapshot, error) {
	line, err := p.run(ctx, p.cfg.ReadCommand)
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	if err := json.Unmarshal(line, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrMalformedReading, err)
	}

	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}

	return snap, nil
}

// WriteSetpoint runs the setpoint program with {"setpoint": value}.
func (p *ProcessSource) WriteSetpoint(ctx context.Context, setpointCM float64) (WriteResult, error) {
	return p.write(ctx, p.cfg.WriteSetpointCommand, map[string]float64{"setpoint": setpointCM})
}

// WriteButtons runs the button program with the JSON encoded command.
func (p *ProcessSource) WriteButtons(ctx context.Context, cmd models.ButtonCommand) (WriteResult, error) {
	return p.write(ctx, p.cfg.WriteButtonsCommand, cmd)
}

func (p *ProcessSource) write(ctx context.Context, command []string, payload interface{}) (WriteResult, error) {
	arg, err := json.Marshal(payload)
	if err != nil {
		return WriteResult{}, fmt.Errorf("failed to encode write payload: %w", err)
	}

	argv := append(append([]string{}, command...), string(arg))

	line, err := p.run(ctx, argv)
	if err != nil {
		return WriteResult{}, err
	}

	var result WriteResult
	if err := json.Unmarshal(line, &result); err != nil {
		return WriteResult{}, fmt.Errorf("failed to decode write result %q: %w", line, err)
	}

	if !result.Success {
		return result, fmt.Errorf("%w: %s", ErrWriteRejected, result.Error)
	}

	return result, nil
}

// run executes argv and returns the first non-empty stdout line.
func (p *ProcessSource) run(ctx context.Context, argv []string) ([]byte, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if len(p.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), p.cfg.Env...)
	}

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to run %s: %w (stderr: %s)", argv[0], err, strings.TrimSpace(stderr.String()))
	}

	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		if line := bytes.TrimSpace(scanner.Bytes()); len(line) > 0 {
			return append([]byte(nil), line...), nil
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read output of %s: %w", argv[0], err)
	}

	return nil, fmt.Errorf("%s printed nothing", argv[0])
}

// SplitCommand turns a command line into argv by splitting on whitespace.
// Quotes are not interpreted; arguments containing spaces need a list.
func SplitCommand(command string) []string {
	return strings.Fields(command)
}
