package firmware

import (
	"time"

	"github.com/Alia5/easycon/script"
)

// Config holds the device emulation parameters.
type Config struct {
	Capacity       int           `help:"Instruction store capacity in bytes (924 or 398 on small boards)" default:"924" env:"EASYCON_CAPACITY"`
	EchoTimes      int           `help:"How many times a changed report is delivered before a wait may expire" default:"3" env:"EASYCON_ECHO_TIMES"`
	TickInterval   time.Duration `help:"Script clock resolution" default:"1ms" env:"EASYCON_TICK_INTERVAL"`
	ReportInterval time.Duration `help:"Interval between report deliveries to the console" default:"8ms" env:"EASYCON_REPORT_INTERVAL"`
	QueueSize      int           `help:"Inbound serial queue length; bytes arriving on a full queue are dropped" default:"256" env:"EASYCON_QUEUE_SIZE"`
	StepBudget     int           `help:"Maximum instructions executed per scheduling pass" default:"4096" env:"EASYCON_STEP_BUDGET"`
	EEPROM         string        `help:"File backing the persistent store; empty keeps it in memory" default:"easycon.eeprom" env:"EASYCON_EEPROM"`
	Image          string        `help:"Program image baked into the store at boot" type:"path" env:"EASYCON_IMAGE"`
}

// DefaultConfig mirrors the kong defaults for callers that do not parse flags.
func DefaultConfig() Config {
	return Config{
		Capacity:       script.DefaultCapacity,
		EchoTimes:      script.DefaultEchoTimes,
		TickInterval:   time.Millisecond,
		ReportInterval: 8 * time.Millisecond,
		QueueSize:      256,
		StepBudget:     script.DefaultStepBudget,
	}
}

func (c *Config) normalize() {
	def := DefaultConfig()
	if c.Capacity <= script.HeaderSize {
		c.Capacity = def.Capacity
	}
	if c.EchoTimes < 0 {
		c.EchoTimes = 0
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = def.ReportInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.StepBudget <= 0 {
		c.StepBudget = def.StepBudget
	}
}
