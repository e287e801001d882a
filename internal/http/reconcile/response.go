package reconcile

import (
	"github.com/hibiken/asynq"
)

type jobResponse struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Queue string `json:"queue"`
	State string `json:"state"`
}

func toJobResponse(info *asynq.TaskInfo) jobResponse {
	return jobResponse{
		ID:    info.ID,
		Type:  info.Type,
		Queue: info.Queue,
		State: info.State.String(),
	}
}
