package config

type WorkerKeyStruct struct {
	PersistSubmissionsQueue string
	PersistViolationsQueue  string

	// Dead-letter lists for items that can never be persisted.
	DeadSubmissionsQueue string
	DeadViolationsQueue  string
}

var WorkerKey = &WorkerKeyStruct{
	PersistSubmissionsQueue: "persist_submissions_queue",
	PersistViolationsQueue:  "persist_violations_queue",
	DeadSubmissionsQueue:    "dead_submissions_queue",
	DeadViolationsQueue:     "dead_violations_queue",
}
