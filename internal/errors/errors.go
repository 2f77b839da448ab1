package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，决定日志标签的颜色。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Scope 描述一个错误最多影响到哪一层。
type Scope string

const (
	// ScopeRequest 只影响当前请求或当前步骤。
	ScopeRequest Scope = "request"
	// ScopeSession 终止当前账号的会话，其余账号不受影响。
	ScopeSession Scope = "session"
	// ScopeProcess 需要人工介入，整个进程停止。
	ScopeProcess Scope = "process"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Scope     Scope
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"

	CodeAuthFailure      Code = "AUTH_FAILURE"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeClientProtocol   Code = "CLIENT_PROTOCOL"
	CodeTransientNetwork Code = "TRANSIENT_NETWORK"
	CodeProxyUnreachable Code = "PROXY_UNREACHABLE"
	CodeOnchainFailure   Code = "ONCHAIN_FAILURE"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:  "unknown error",
			Severity: SeverityCritical,
			Scope:    ScopeSession,
		},
		CodeInvalidArgument: {
			Message:  "invalid argument",
			Severity: SeverityInfo,
			Scope:    ScopeRequest,
		},
		CodeInitializationFailure: {
			Message:  "component not initialized",
			Severity: SeverityCritical,
			Scope:    ScopeProcess,
		},
		CodeStorageFailure: {
			Message:   "storage failure",
			Severity:  SeverityWarning,
			Retryable: true,
			Scope:     ScopeRequest,
		},
		CodeTimeout: {
			Message:   "operation timed out",
			Severity:  SeverityWarning,
			Retryable: true,
			Scope:     ScopeSession,
		},
		CodeAuthFailure: {
			Message:  "no usable token",
			Severity: SeverityCritical,
			Scope:    ScopeSession,
		},
		CodeRateLimited: {
			Message:   "rate limited",
			Severity:  SeverityWarning,
			Retryable: true,
			Scope:     ScopeRequest,
		},
		CodeClientProtocol: {
			Message:  "request rejected by server",
			Severity: SeverityWarning,
			Scope:    ScopeRequest,
		},
		CodeTransientNetwork: {
			Message:   "network error",
			Severity:  SeverityWarning,
			Retryable: true,
			Scope:     ScopeRequest,
		},
		CodeProxyUnreachable: {
			Message:  "proxy unreachable",
			Severity: SeverityWarning,
			Scope:    ScopeSession,
		},
		CodeOnchainFailure: {
			Message:  "on-chain action failed",
			Severity: SeverityWarning,
			Scope:    ScopeRequest,
		},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	status    int
	retryable *bool
	scope     *Scope
}

// Option 定义可选配置。
type Option func(*Error)

// WithStatus 记录触发错误的 HTTP 状态码。
func WithStatus(status int) Option {
	return func(e *Error) {
		e.status = status
	}
}

// WithRetryable 指定错误是否可重试。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithScope 覆盖默认的影响范围。
func WithScope(scope Scope) Option {
	return func(e *Error) {
		e.scope = &scope
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Status 返回关联的 HTTP 状态码，没有时为 0。
func (e *Error) Status() int {
	if e == nil {
		return 0
	}
	return e.status
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// Scope 返回错误的影响范围。
func (e *Error) Scope() Scope {
	if e == nil {
		return ScopeRequest
	}
	if e.scope != nil {
		return *e.scope
	}
	return AttributesOf(e.code).Scope
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// ScopeOf 返回任意 error 的影响范围，未知错误按会话级处理。
func ScopeOf(err error) Scope {
	if e, ok := From(err); ok {
		return e.Scope()
	}
	return AttributesOf(CodeUnknown).Scope
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
