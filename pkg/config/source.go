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

package config

import (
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/tank-scada/pkg/plc"
)

// snap7 helpers below PLCConfig.ScriptsDir, used in s7 mode unless commands
// are configured. They read PLC_ADDRESS, PLC_RACK and PLC_SLOT.
const (
	s7Interpreter         = "python3"
	s7ReadScript          = "read_plc.py"
	s7WriteSetpointScript = "write_plc.py"
	s7WriteButtonsScript  = "write_botones_plc.py"
)

// Command is an argv. In YAML it is either a list, which keeps arguments
// with spaces intact, or a string split on whitespace.
type Command []string

func (c *Command) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*c = plc.SplitCommand(value.Value)

		return nil
	case yaml.SequenceNode:
		var argv []string
		if err := value.Decode(&argv); err != nil {
			return err
		}

		*c = argv

		return nil
	default:
		return fmt.Errorf("line %d: command must be a string or a list", value.Line)
	}
}

// Source builds the reading source of the configured mode.
func (p PLCConfig) Source() (plc.Source, error) {
	switch p.Mode {
	case ModeSequence:
		return plc.NewSequenceSource(), nil
	case ModeRandom:
		return plc.NewRandomSource(p.Seed), nil
	case ModeProcess, ModeS7:
		return plc.NewProcessSource(p.ProcessConfig())
	default:
		return nil, fmt.Errorf("unknown plc mode %q", p.Mode)
	}
}

// ProcessConfig returns the program settings of process and s7 mode.
func (p PLCConfig) ProcessConfig() plc.ProcessConfig {
	read, setpoint, buttons := p.ReadCommand, p.WriteSetpointCommand, p.WriteButtonsCommand

	var environment []string

	if p.Mode == ModeS7 {
		if len(read) == 0 {
			read = p.s7Command(s7ReadScript)
		}

		if len(setpoint) == 0 {
			setpoint = p.s7Command(s7WriteSetpointScript)
		}

		if len(buttons) == 0 {
			buttons = p.s7Command(s7WriteButtonsScript)
		}

		environment = p.S7Env()
	}

	return plc.ProcessConfig{
		ReadCommand:          read,
		WriteSetpointCommand: setpoint,
		WriteButtonsCommand:  buttons,
		Env:                  environment,
		Timeout:              p.Timeout,
	}
}

func (p PLCConfig) s7Command(script string) Command {
	return Command{s7Interpreter, filepath.Join(p.ScriptsDir, script)}
}
