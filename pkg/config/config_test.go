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

package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/tank-scada/pkg/config"
	"github.com/united-manufacturing-hub/tank-scada/pkg/plc"
)

var _ = Describe("Config", func() {
	BeforeEach(func() {
		for _, key := range []string{"CONFIG_PATH", "PRIMARY_STORE_URI", "MONGODB_URI", "SECONDARY_STORE_URI", "PORT", "TICK_INTERVAL", "PLC_MODE"} {
			unsetEnv(key)
		}
	})

	Describe("Default", func() {
		It("should be valid", func() {
			cfg := config.Default()
			Expect(cfg.Validate()).To(Succeed())
			Expect(cfg.Port).To(Equal(5000))
			Expect(cfg.TickInterval).To(Equal(time.Second))
			Expect(cfg.ButtonReconcileInterval).To(Equal(time.Second))
			Expect(cfg.PruneEvery).To(Equal(uint64(500)))
			Expect(cfg.PruneBatch).To(Equal(100))
			Expect(cfg.FallbackSetpoint).To(Equal(100.0))
			Expect(cfg.PLC.Mode).To(Equal(config.ModeSequence))
		})

		It("should map onto the acquisition settings", func() {
			acq := config.Default().Acquisition()
			Expect(acq.PruneEvery).To(Equal(uint64(500)))
			Expect(acq.FallbackSetpoint).To(Equal(100.0))
		})

		It("should give a cycle the PLC timeout when it exceeds the tick interval", func() {
			cfg := config.Default()
			Expect(cfg.EffectiveCycleTimeout()).To(Equal(5 * time.Second))
			Expect(cfg.Acquisition().CycleTimeout).To(Equal(5 * time.Second))

			cfg.TickInterval = 10 * time.Second
			Expect(cfg.EffectiveCycleTimeout()).To(Equal(10 * time.Second))

			cfg.CycleTimeout = 2 * time.Second
			Expect(cfg.Acquisition().CycleTimeout).To(Equal(2 * time.Second))
		})
	})

	Describe("LoadFile", func() {
		It("should decode YAML over the defaults", func() {
			path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
			Expect(os.WriteFile(path, []byte(`
primaryStoreUri: postgres://scada@db/scada
secondaryStoreUri: sqlite:///var/lib/scada/local.db
tickInterval: 250ms
pruneSetpoints: true
plc:
  mode: random
  seed: 9
`), 0o600)).To(Succeed())

			cfg, err := config.LoadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.PrimaryStoreURI).To(Equal("postgres://scada@db/scada"))
			Expect(cfg.SecondaryStoreURI).To(Equal("sqlite:///var/lib/scada/local.db"))
			Expect(cfg.TickInterval).To(Equal(250 * time.Millisecond))
			Expect(cfg.PruneSetpoints).To(BeTrue())
			Expect(cfg.PLC.Mode).To(Equal(config.ModeRandom))
			Expect(cfg.PLC.Seed).To(Equal(uint64(9)))
			Expect(cfg.Port).To(Equal(5000))
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should accept commands as lists or strings", func() {
			path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
			Expect(os.WriteFile(path, []byte(`
plc:
  mode: process
  readCommand: ["/opt/tank plc/read", "--db", "2"]
  writeSetpointCommand:
    - /opt/tank plc/write
  writeButtonsCommand: /opt/plc/buttons --db 5
`), 0o600)).To(Succeed())

			cfg, err := config.LoadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.PLC.ReadCommand).To(Equal(config.Command{"/opt/tank plc/read", "--db", "2"}))
			Expect(cfg.PLC.WriteSetpointCommand).To(Equal(config.Command{"/opt/tank plc/write"}))
			Expect(cfg.PLC.WriteButtonsCommand).To(Equal(config.Command{"/opt/plc/buttons", "--db", "5"}))
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should reject a command mapping", func() {
			path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
			Expect(os.WriteFile(path, []byte("plc:\n  readCommand:\n    program: read\n"), 0o600)).To(Succeed())

			_, err := config.LoadFile(path)
			Expect(err).To(MatchError(ContainSubstring("command must be a string or a list")))
		})

		It("should fail on a missing file", func() {
			_, err := config.LoadFile(filepath.Join(GinkgoT().TempDir(), "absent.yaml"))
			Expect(err).To(HaveOccurred())
		})

		It("should fail on invalid YAML", func() {
			path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
			Expect(os.WriteFile(path, []byte("port: [\n"), 0o600)).To(Succeed())

			_, err := config.LoadFile(path)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ApplyEnv", func() {
		It("should override file values", func() {
			setEnv("PRIMARY_STORE_URI", "memory://")
			setEnv("SECONDARY_STORE_URI", "sqlite://:memory:")
			setEnv("PORT", "8080")
			setEnv("TICK_INTERVAL", "100ms")
			setEnv("BUTTON_RECONCILE_INTERVAL", "0s")
			setEnv("PRUNE_EVERY", "10")
			setEnv("PRUNE_SETPOINTS", "true")
			setEnv("FALLBACK_SETPOINT", "55.5")
			setEnv("PLC_MODE", "s7")
			setEnv("PLC_SLOT", "2")
			setEnv("PLC_READ_COMMAND", "python3  /opt/s7/read_plc.py")
			setEnv("CYCLE_TIMEOUT", "3s")

			cfg := config.Default()
			Expect(config.ApplyEnv(&cfg)).To(Succeed())

			Expect(cfg.PrimaryStoreURI).To(Equal("memory://"))
			Expect(cfg.SecondaryStoreURI).To(Equal("sqlite://:memory:"))
			Expect(cfg.Port).To(Equal(8080))
			Expect(cfg.TickInterval).To(Equal(100 * time.Millisecond))
			Expect(cfg.ButtonReconcileInterval).To(BeZero())
			Expect(cfg.PruneEvery).To(Equal(uint64(10)))
			Expect(cfg.PruneSetpoints).To(BeTrue())
			Expect(cfg.FallbackSetpoint).To(Equal(55.5))
			Expect(cfg.PLC.Mode).To(Equal(config.ModeS7))
			Expect(cfg.PLC.Slot).To(Equal(2))
			Expect(cfg.PLC.ReadCommand).To(Equal(config.Command{"python3", "/opt/s7/read_plc.py"}))
			Expect(cfg.CycleTimeout).To(Equal(3 * time.Second))
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should accept MONGODB_URI as the primary store", func() {
			setEnv("MONGODB_URI", "postgres://legacy/scada")

			cfg := config.Default()
			Expect(config.ApplyEnv(&cfg)).To(Succeed())
			Expect(cfg.PrimaryStoreURI).To(Equal("postgres://legacy/scada"))
		})

		It("should prefer PRIMARY_STORE_URI over MONGODB_URI", func() {
			setEnv("MONGODB_URI", "postgres://legacy/scada")
			setEnv("PRIMARY_STORE_URI", "memory://")

			cfg := config.Default()
			Expect(config.ApplyEnv(&cfg)).To(Succeed())
			Expect(cfg.PrimaryStoreURI).To(Equal("memory://"))
		})

		It("should report every malformed variable", func() {
			setEnv("PORT", "five thousand")
			setEnv("TICK_INTERVAL", "often")

			cfg := config.Default()
			err := config.ApplyEnv(&cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("PORT"))
			Expect(err.Error()).To(ContainSubstring("TICK_INTERVAL"))
		})
	})

	Describe("Load", func() {
		It("should read CONFIG_PATH and apply the environment", func() {
			path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
			Expect(os.WriteFile(path, []byte("port: 6000\nprimaryStoreUri: memory://\n"), 0o600)).To(Succeed())
			setEnv("CONFIG_PATH", path)
			setEnv("TICK_INTERVAL", "2s")

			cfg, err := config.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Port).To(Equal(6000))
			Expect(cfg.TickInterval).To(Equal(2 * time.Second))
		})

		It("should reject an invalid result", func() {
			setEnv("PRIMARY_STORE_URI", "mongodb://localhost/scada")

			_, err := config.Load()
			Expect(err).To(MatchError(ContainSubstring("unsupported store scheme")))
		})
	})

	Describe("Validate", func() {
		It("should join all problems", func() {
			cfg := config.Default()
			cfg.Port = 0
			cfg.TickInterval = 0
			cfg.ButtonReconcileInterval = -time.Second
			cfg.PLC.Mode = "modbus"

			err := cfg.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("port 0 is out of range"))
			Expect(err.Error()).To(ContainSubstring("tick interval"))
			Expect(err.Error()).To(ContainSubstring("button reconcile interval"))
			Expect(err.Error()).To(ContainSubstring(`unknown plc mode "modbus"`))
		})

		It("should require commands in process mode", func() {
			cfg := config.Default()
			cfg.PLC.Mode = config.ModeProcess
			cfg.PLC.ReadCommand = config.Command{"python3", "read.py"}

			Expect(cfg.Validate()).To(MatchError(ContainSubstring("needs read, setpoint write and button write commands")))
		})
	})

	Describe("PLC source", func() {
		It("should build the simulated sources", func() {
			cfg := config.Default().PLC

			source, err := cfg.Source()
			Expect(err).NotTo(HaveOccurred())
			Expect(source).To(BeAssignableToTypeOf(&plc.SequenceSource{}))

			cfg.Mode = config.ModeRandom
			source, err = cfg.Source()
			Expect(err).NotTo(HaveOccurred())
			Expect(source).To(BeAssignableToTypeOf(&plc.RandomSource{}))
		})

		It("should default the snap7 programs in s7 mode", func() {
			cfg := config.Default().PLC
			cfg.Mode = config.ModeS7
			cfg.Address = "10.0.0.5"

			process := cfg.ProcessConfig()
			Expect(process.ReadCommand).To(Equal([]string{"python3", "scripts/s7/read_plc.py"}))
			Expect(process.WriteSetpointCommand).To(Equal([]string{"python3", "scripts/s7/write_plc.py"}))
			Expect(process.WriteButtonsCommand).To(Equal([]string{"python3", "scripts/s7/write_botones_plc.py"}))
			Expect(process.Env).To(ConsistOf("PLC_ADDRESS=10.0.0.5", "PLC_RACK=0", "PLC_SLOT=1"))

			source, err := cfg.Source()
			Expect(err).NotTo(HaveOccurred())
			Expect(source).To(BeAssignableToTypeOf(&plc.ProcessSource{}))
		})

		It("should ship snap7 helpers that read the connection settings", func() {
			cfg := config.Default().PLC
			cfg.Mode = config.ModeS7
			cfg.ScriptsDir = filepath.Join("..", "..", "scripts", "s7")

			process := cfg.ProcessConfig()
			for _, command := range [][]string{process.ReadCommand, process.WriteSetpointCommand, process.WriteButtonsCommand} {
				Expect(command).To(HaveLen(2))
				Expect(command[1]).To(BeARegularFile())
			}

			shared, err := os.ReadFile(filepath.Join(cfg.ScriptsDir, "s7conn.py"))
			Expect(err).NotTo(HaveOccurred())
			for _, key := range []string{"PLC_ADDRESS", "PLC_RACK", "PLC_SLOT"} {
				Expect(string(shared)).To(ContainSubstring(key))
			}
		})

		It("should use configured commands in process mode", func() {
			cfg := config.Default().PLC
			cfg.Mode = config.ModeProcess
			cfg.ReadCommand = config.Command{"/opt/plc/read", "--db", "2"}
			cfg.WriteSetpointCommand = config.Command{"/opt/plc/write"}
			cfg.WriteButtonsCommand = config.Command{"/opt/plc/buttons"}

			process := cfg.ProcessConfig()
			Expect(process.ReadCommand).To(Equal([]string{"/opt/plc/read", "--db", "2"}))
			Expect(process.Env).To(BeEmpty())
		})

		It("should reject an unknown mode", func() {
			cfg := config.Default().PLC
			cfg.Mode = "modbus"

			_, err := cfg.Source()
			Expect(err).To(HaveOccurred())
		})
	})
})
