package config

const (
	// TopicIngestTask is the NSQ topic carrying ingestion jobs.
	TopicIngestTask = "ingest.task"

	// ChannelWorker is the consumer channel for the ingestion worker.
	// A single logical consumer group: every worker process joins this
	// channel, so each job is delivered to exactly one of them.
	ChannelWorker = "worker"
)
