package config

type WorkerKeyStruct struct {
	AccessAuditQueue string
}

var WorkerKey = &WorkerKeyStruct{
	AccessAuditQueue: "access_audit_queue",
}
