// Package notify fans out job lifecycle notifications to configured sinks.
//
// Sinks (email, chat, webhook) are optional narrow interfaces; recipients
// are routed by shape ("@"-containing strings to email, "#"/"@"-prefixed to
// chat, URLs to webhooks). Dispatch is best-effort: sink failures are logged
// and never alter job status. With no sinks configured the dispatcher falls
// back to structured logging.
package notify
