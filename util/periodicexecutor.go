package mapperutil

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Structure representing a periodic executor which is configured to
// execute a function specified by a caller according to the timer
// interval specified.
type PeriodicExecutor struct {
	name            string
	executorFunc    func() error
	interval        time.Duration
	ticker          *time.Ticker
	active          bool
	pauseCount      uint16
	done            chan bool
	wg              *sync.WaitGroup
	mutex           *sync.Mutex
	executionMutex  *sync.Mutex
	getIntervalFunc func() (time.Duration, error)
}

// Interval is used while the executor is inactive to check if it was re-enabled.
const InactiveInterval = 60 * time.Second

// Creates an instance of a new periodic executor. The periodic executor offers a mechanism
// to periodically trigger an action. This action is supplied as a function instance.
// This function is executed within a goroutine periodically according to the timer
// interval returned by `getIntervalFunc`. The interval is re-read after each tick.
func NewPeriodicExecutor(name string, executorFunc func() error, getIntervalFunc func() (time.Duration, error)) (*PeriodicExecutor, error) {
	log.Printf("Starting %s", name)

	interval, err := getIntervalFunc()
	if err != nil {
		return nil, err
	}

	// Non-positive interval disables the executor. It still polls the
	// interval every InactiveInterval to re-enable itself.
	active := true
	if interval <= 0 {
		interval = InactiveInterval
		active = false
	}

	periodicExecutor := &PeriodicExecutor{
		name:            name,
		executorFunc:    executorFunc,
		ticker:          time.NewTicker(interval),
		active:          active,
		pauseCount:      0,
		done:            make(chan bool),
		wg:              &sync.WaitGroup{},
		mutex:           &sync.Mutex{},
		executionMutex:  &sync.Mutex{},
		interval:        interval,
		getIntervalFunc: getIntervalFunc,
	}

	periodicExecutor.wg.Add(1)
	go periodicExecutor.executorLoop()

	log.Printf("Started %s", periodicExecutor.name)
	return periodicExecutor, nil
}

// Terminates the executor, i.e. the executor no longer triggers the
// user defined function. It waits for the running iteration to finish.
func (executor *PeriodicExecutor) Shutdown() {
	log.Printf("Stopping %s", executor.name)
	executor.done <- true
	executor.wg.Wait()
	log.Printf("Stopped %s", executor.name)
}

// Temporarily stops the timer triggering the executor action. This function
// is called internally by the executor while running the executor action to
// avoid the situation that after long lasting action it is triggered again
// shortly. It can also be called externally if the executor action would
// be in conflict with some other operation during which the executor is
// paused. This function allows for being called multiple times and the
// timer is resumed after calling Unpause the same number of times.
func (executor *PeriodicExecutor) Pause() {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()
	executor.ticker.Stop()
	executor.pauseCount++
}

// Checks if the executor is currently paused.
func (executor *PeriodicExecutor) Paused() bool {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()
	return executor.pauseCount > 0
}

// Unpause implementation which optionally locks the executor's mutex.
// The reset function locks the mutex on its own so the lock argument is
// set to false in this case.
func (executor *PeriodicExecutor) unpause(lock bool, intervals ...time.Duration) {
	if len(intervals) > 1 {
		// This should not happen.
		panic("Resume accepts one or zero interval values")
	}
	if lock {
		executor.mutex.Lock()
		defer executor.mutex.Unlock()
	}
	if executor.pauseCount > 0 {
		executor.pauseCount--
	}
	// Unpause() called for all earlier calls to Pause(), so we can resume
	// the executor action.
	if executor.pauseCount == 0 {
		if len(intervals) > 0 {
			executor.interval = intervals[0]
		}
		executor.ticker.Reset(executor.interval)
	}
}

// Unpauses the executor. The optional interval parameter may contain
// one interval value which overrides the current interval.
func (executor *PeriodicExecutor) Unpause(interval ...time.Duration) {
	executor.unpause(true, interval...)
}

// Returns the current interval.
func (executor *PeriodicExecutor) GetInterval() time.Duration {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()
	return executor.interval
}

// Reschedules the executor timer to a new interval. It forcibly stops
// the executor and reschedules to the new interval.
func (executor *PeriodicExecutor) reset(interval time.Duration) {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()
	executor.ticker.Stop()
	executor.pauseCount = 0
	executor.unpause(false, interval)
}

// Blocks until the executor finishes the current iteration. It returns
// immediately if the executor function is not running.
func (executor *PeriodicExecutor) WaitForStandby() {
	executor.executionMutex.Lock()
	defer executor.executionMutex.Unlock()
}

// Runs the executor function once.
func (executor *PeriodicExecutor) execute() {
	executor.executionMutex.Lock()
	defer executor.executionMutex.Unlock()

	// Temporarily stop the executor while running the external action.
	// It will be resumed when the action ends.
	executor.Pause()
	err := executor.executorFunc()
	executor.Unpause()
	if err != nil {
		log.WithError(err).Errorf("Problem running %s", executor.name)
	}
}

// This function controls the timing of the function execution and captures the
// termination signal.
func (executor *PeriodicExecutor) executorLoop() {
	defer executor.wg.Done()
	for {
		select {
		case <-executor.ticker.C:
			if executor.active {
				executor.execute()
			}
		case <-executor.done:
			// Make sure this function is never called again.
			executor.Pause()
			return
		}

		// Check if the interval has changed. If so, recreate the ticker.
		interval, err := executor.getIntervalFunc()
		if err != nil {
			log.WithError(err).Errorf("Problem getting the interval of %s", executor.name)
			continue
		}

		executor.mutex.Lock()
		executorInterval := executor.interval
		executor.mutex.Unlock()

		if interval <= 0 && executor.active {
			if executorInterval != InactiveInterval {
				executor.reset(InactiveInterval)
			}
			executor.active = false
		} else if interval > 0 && interval != executorInterval {
			executor.reset(interval)
			executor.active = true
		} else if interval > 0 {
			executor.active = true
		}
	}
}

// Returns the executor name.
func (executor *PeriodicExecutor) GetName() string {
	return executor.name
}
