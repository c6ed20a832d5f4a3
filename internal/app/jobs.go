package app

import (
	"context"
	"slices"
	"strings"

	"fifosched/internal/config"
	"fifosched/internal/jobs/command"
	"fifosched/internal/task/scheduler"
	logx "fifosched/pkg/logx"
)

func commandSpec(jc config.JobConfig) command.Spec {
	return command.Spec{
		Name:    strings.TrimSpace(jc.Name),
		Command: jc.Command,
		Dir:     jc.Dir,
		Env:     append([]string(nil), jc.Env...),
	}
}

// syncTriggers makes the trigger set match jobs for the names listed. A nil
// names slice means every job in jobs plus every registered trigger.
func syncTriggers(trig *scheduler.Triggers, jobs []config.JobConfig, names []string, log logx.Logger) {
	byName := make(map[string]config.JobConfig, len(jobs))
	for _, jc := range jobs {
		byName[strings.TrimSpace(jc.Name)] = jc
	}
	if names == nil {
		names = trig.Names()
		for name := range byName {
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
		slices.Sort(names)
	}

	for _, name := range names {
		jc, ok := byName[name]
		if !ok || strings.TrimSpace(jc.Schedule) == "" {
			if trig.Remove(name) {
				log.Info("trigger removed", logx.String("job", name))
			}
			continue
		}
		spec := commandSpec(jc)
		if err := trig.AddSchedule(name, jc.Schedule, spec.Factory(log)); err != nil {
			log.Warn("trigger not registered", logx.String("job", name), logx.Err(err))
			continue
		}
		log.Debug("trigger registered", logx.String("job", name), logx.String("schedule", jc.Schedule))
	}
}

// submitStartupJobs queues every run_on_start job and starts the service
// when at least one was accepted.
func submitStartupJobs(ctx context.Context, svc *scheduler.Service, jobs []config.JobConfig, log logx.Logger) int {
	n := 0
	for _, jc := range jobs {
		if !jc.RunOnStart {
			continue
		}
		ok, err := svc.Submit(command.New(commandSpec(jc), log))
		if err != nil {
			log.Warn("startup job rejected", logx.String("job", jc.Name), logx.Err(err))
			continue
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		svc.Start(ctx)
	}
	return n
}
