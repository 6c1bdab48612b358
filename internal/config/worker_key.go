package config

type WorkerKeyStruct struct {
	PersistIntegrityQueue string
	PersistSessionsQueue  string
}

var WorkerKey = &WorkerKeyStruct{
	PersistIntegrityQueue: "persist_integrity_queue",
	PersistSessionsQueue:  "persist_sessions_queue",
}
