package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.EvaluateContributionActivity)
	w.RegisterActivity(a.RegisterAllocationsActivity)
	w.RegisterActivity(a.RefreshGraphActivity)
	w.RegisterActivity(a.ListPendingActivity)
}
