package nats

const (
	// ExecuteSubject carries queue.Task payloads from the API to workers
	ExecuteSubject = "jobs.execute"
	// QueueGroup makes each task land on exactly one subscribed worker
	QueueGroup = "workers"
)
