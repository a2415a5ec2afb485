package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/logging"
)

// CallbackType represents the different points in the request lifecycle
// where callbacks can be registered and executed.
type CallbackType string

const (
	// CallbackBeforeStage is triggered before a pipeline stage runs.
	CallbackBeforeStage CallbackType = "before_stage"

	// CallbackAfterStage is triggered after a stage succeeds.
	CallbackAfterStage CallbackType = "after_stage"

	// CallbackOnError is triggered when a request ends with an error.
	CallbackOnError CallbackType = "on_error"

	// CallbackOnComplete is triggered when a request ends with a response.
	CallbackOnComplete CallbackType = "on_complete"
)

// CallbackContext provides context information to callback functions.
type CallbackContext struct {
	// State is the request's pipeline state. Callbacks must not mutate it.
	State *core.PipelineState

	// Step is the stage name for stage callbacks.
	Step string

	// Duration is set for after-stage and terminal callbacks.
	Duration time.Duration

	// Response is set for CallbackOnComplete.
	Response *Response

	// Err is set for CallbackOnError.
	Err error
}

// Callback defines the interface for lifecycle callbacks.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a callback from a function.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{callbackType: callbackType, fn: fn}
}

// Type returns the callback type.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute runs the wrapped function.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager manages and executes callbacks. Callback errors are logged
// and never abort a request.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
	logger    logging.Logger
}

// NewCallbackManager creates a new callback manager.
func NewCallbackManager(logger logging.Logger) *CallbackManager {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback), logger: logger}
}

// RegisterCallback registers a callback for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	t := callback.Type()
	cm.callbacks[t] = append(cm.callbacks[t], callback)
}

// ExecuteCallbacks runs every callback of a type in registration order and
// returns the first error.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := cm.callbacks[callbackType]
	cm.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}
	return nil
}

func (cm *CallbackManager) fire(ctx context.Context, callbackType CallbackType, callbackCtx *CallbackContext) {
	if cm == nil {
		return
	}
	if err := cm.ExecuteCallbacks(ctx, callbackType, callbackCtx); err != nil {
		cm.logger.Warn("Callback failed", "type", string(callbackType), "step", callbackCtx.Step, "error", err)
	}
}

// LoggingCallback logs lifecycle events.
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a logging callback.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{callbackType: callbackType, logger: logger}
}

// Type returns the callback type.
func (c *LoggingCallback) Type() CallbackType { return c.callbackType }

// Execute logs the callback context.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	requestID := ""
	if callbackCtx.State != nil {
		requestID = callbackCtx.State.RequestID
	}
	msg := fmt.Sprintf("[%s] request=%s step=%s duration=%s", c.callbackType, requestID, callbackCtx.Step, callbackCtx.Duration)
	if callbackCtx.Err != nil {
		msg += " error=" + callbackCtx.Err.Error()
	}
	c.logger(msg)
	return nil
}
