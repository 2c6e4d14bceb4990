package config

type WorkerKeyStruct struct {
	PersistResultsQueue      string
	PersistResultsDeadLetter string
}

var WorkerKey = &WorkerKeyStruct{
	PersistResultsQueue:      "persist_results_queue",
	PersistResultsDeadLetter: "persist_results_dead_letter",
}
