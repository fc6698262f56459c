package model

// Backends groups all storage interfaces used by the application.
// It provides a single struct that can be passed around instead of
// multiple return values for each storage backend.
type Backends struct {
	Audit        AuditStore
	Templates    TemplateStore
	Submissions  SubmissionStore
	Certificates CertificateStore
	KV           KeyValueStore
	Users        UsersStore
}
