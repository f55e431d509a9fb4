package rhino

// Config holds the resolved configuration for a Kernel, replacing the
// original's compile-time RHINO_CONFIG_* macros with values resolved once
// at NewKernel time.
type Config struct {
	// PriMax is the number of priority levels, numbered 0 (highest) to
	// PriMax-1 (lowest, reserved for the idle task).
	PriMax uint8
	// CPUNum is the number of logical CPUs the kernel simulates.
	CPUNum uint8
	// TicksPerSecond is the driven tick rate; only used to convert a
	// timer's late ticks into a duration for Stats.TimerFireLatency.
	TicksPerSecond uint32
	// TimeSliceDefault is the round-robin slice, in ticks, assigned to a
	// round-robin task that does not specify its own.
	TimeSliceDefault uint32
	// ReaperPriority is the priority the reaper task runs at. Defaults to
	// 0 (highest) so deferred stack/TCB frees never starve behind
	// arbitrary application tasks.
	ReaperPriority uint8
	// TimerCmdQueueDepth bounds the timer service's command queue.
	TimerCmdQueueDepth uint32

	EnableSem           bool
	EnableQueue         bool
	EnableTimer         bool
	EnableDynAlloc      bool
	EnableRR            bool
	EnableTaskDel       bool
	EnableTaskPriChg    bool
	EnableWaitAbort     bool
	EnableStackOvfCheck bool
	StackGrowsDown      bool
	EnableSystemStats   bool
}

// Option configures a Kernel at construction time.
type Option interface {
	apply(*Config) error
}

// optionFunc implements Option.
type optionFunc struct {
	fn func(*Config) error
}

func (o *optionFunc) apply(cfg *Config) error {
	return o.fn(cfg)
}

// WithPriMax sets the number of priority levels.
func WithPriMax(priMax uint8) Option {
	return &optionFunc{func(cfg *Config) error {
		cfg.PriMax = priMax
		return nil
	}}
}

// WithCPUNum sets the number of simulated logical CPUs.
func WithCPUNum(n uint8) Option {
	return &optionFunc{func(cfg *Config) error {
		cfg.CPUNum = n
		return nil
	}}
}

// WithTicksPerSecond sets the driven tick rate.
func WithTicksPerSecond(tps uint32) Option {
	return &optionFunc{func(cfg *Config) error {
		cfg.TicksPerSecond = tps
		return nil
	}}
}

// WithTimeSliceDefault sets the default round-robin slice, in ticks.
func WithTimeSliceDefault(ticks uint32) Option {
	return &optionFunc{func(cfg *Config) error {
		cfg.TimeSliceDefault = ticks
		return nil
	}}
}

// WithReaperPriority overrides the reaper task's priority.
func WithReaperPriority(pri uint8) Option {
	return &optionFunc{func(cfg *Config) error {
		cfg.ReaperPriority = pri
		return nil
	}}
}

// WithTimerCmdQueueDepth sets the timer service's command queue depth.
func WithTimerCmdQueueDepth(depth uint32) Option {
	return &optionFunc{func(cfg *Config) error {
		cfg.TimerCmdQueueDepth = depth
		return nil
	}}
}

// WithSem sets Config.EnableSem. With it false, NewSem does not add new
// semaphores to the Sems registry; semaphores themselves still work.
func WithSem(enabled bool) Option {
	return &optionFunc{func(cfg *Config) error {
		cfg.EnableSem = enabled
		return nil
	}}
}

// WithQueue sets Config.EnableQueue. No code reads the flag; message
// queues work either way.
func WithQueue(enabled bool) Option {
	return &optionFunc{func(cfg *Config) error {
		cfg.EnableQueue = enabled
		return nil
	}}
}

// WithTimer enables or disables the software timer service.
func WithTimer(enabled bool) Option {
	return &optionFunc{func(cfg *Config) error {
		cfg.EnableTimer = enabled
		return nil
	}}
}

// WithDynAlloc sets Config.EnableDynAlloc. No code reads the flag;
// objects of either allocation kind can be created either way.
func WithDynAlloc(enabled bool) Option {
	return &optionFunc{func(cfg *Config) error {
		cfg.EnableDynAlloc = enabled
		return nil
	}}
}

// WithRoundRobin enables or disables round-robin time-slicing.
func WithRoundRobin(enabled bool) Option {
	return &optionFunc{func(cfg *Config) error {
		cfg.EnableRR = enabled
		return nil
	}}
}

// WithTaskDel enables or disables Task.Delete.
func WithTaskDel(enabled bool) Option {
	return &optionFunc{func(cfg *Config) error {
		cfg.EnableTaskDel = enabled
		return nil
	}}
}

// WithTaskPriChg enables or disables runtime task priority changes.
func WithTaskPriChg(enabled bool) Option {
	return &optionFunc{func(cfg *Config) error {
		cfg.EnableTaskPriChg = enabled
		return nil
	}}
}

// WithWaitAbort enables or disables Task.WaitAbort.
func WithWaitAbort(enabled bool) Option {
	return &optionFunc{func(cfg *Config) error {
		cfg.EnableWaitAbort = enabled
		return nil
	}}
}

// WithStackOverflowCheck sets Config.EnableStackOvfCheck. No code reads
// the flag; no stack high-water or canary check is performed.
func WithStackOverflowCheck(enabled bool) Option {
	return &optionFunc{func(cfg *Config) error {
		cfg.EnableStackOvfCheck = enabled
		return nil
	}}
}

// WithStackGrowsDown sets Config.StackGrowsDown, the simulated stack
// growth direction. No code reads the flag.
func WithStackGrowsDown(down bool) Option {
	return &optionFunc{func(cfg *Config) error {
		cfg.StackGrowsDown = down
		return nil
	}}
}

// WithSystemStats enables or disables the system object registries
// (Kernel.Mutexes/Sems/Queues/Timers introspection iterators).
func WithSystemStats(enabled bool) Option {
	return &optionFunc{func(cfg *Config) error {
		cfg.EnableSystemStats = enabled
		return nil
	}}
}

// defaultConfig returns the Config a Kernel is built from before Options
// are applied.
func defaultConfig() *Config {
	return &Config{
		PriMax:              32,
		CPUNum:              1,
		TicksPerSecond:      1000,
		TimeSliceDefault:    10,
		ReaperPriority:      0,
		TimerCmdQueueDepth:  32,
		EnableSem:           true,
		EnableQueue:         true,
		EnableTimer:         true,
		EnableDynAlloc:      true,
		EnableRR:            true,
		EnableTaskDel:       true,
		EnableTaskPriChg:    true,
		EnableWaitAbort:     true,
		EnableStackOvfCheck: true,
		StackGrowsDown:      true,
		EnableSystemStats:   true,
	}
}

// resolveOptions applies Options over the default Config.
func resolveOptions(opts []Option) (*Config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
