package main

import (
	"context"
	"fmt"

	"eldritch/internal/agent"
	"eldritch/internal/choices"
	"eldritch/internal/config"
	"eldritch/internal/fallback"
	"eldritch/internal/health"
	"eldritch/internal/logging"
	"eldritch/internal/memory"
	"eldritch/internal/narrative"
	"eldritch/internal/reasoning"

	"go.uber.org/zap"
)

// runtime is the wired pipeline for one command invocation.
type runtime struct {
	primary     agent.Agent
	specialists map[string]agent.Agent
	monitor     *health.Monitor
	memories    *memory.Registry
	coordinator *reasoning.Coordinator
	controller  *fallback.Controller
	archive     *memory.Archive
}

// newRuntime builds the pipeline from c. With withArchive the session
// archive is opened and its memories restored.
func newRuntime(ctx context.Context, c *config.Config, offlineMode, withArchive bool) (*runtime, error) {
	rt := &runtime{
		monitor:  health.NewMonitor(c.Health.Window, c.GetSlowThreshold()),
		memories: memory.NewRegistry(c.Memory.Capacity, memory.WithDefaultImportance(c.Memory.DefaultImportance)),
	}

	if err := rt.buildAgents(ctx, c, offlineMode); err != nil {
		return nil, err
	}

	if withArchive {
		archive, err := memory.OpenArchive(c.Memory.DatabasePath, c.Memory.Driver)
		if err != nil {
			return nil, fmt.Errorf("open memory archive: %w", err)
		}
		rt.archive = archive
		n, err := archive.LoadRegistry(ctx, rt.memories)
		if err != nil {
			archive.Close()
			return nil, fmt.Errorf("restore memories: %w", err)
		}
		logger.Debug("Memories restored", zap.Int("records", n), zap.String("path", archive.Path()))
	}

	choiceTension, _ := narrative.ParseTension(c.Choices.TensionThreshold)
	gen := choices.NewGenerator(choices.Options{
		Cap:              c.Choices.Cap,
		TensionThreshold: choiceTension,
		LowSanityRatio:   c.Choices.LowSanityRatio,
		LowHealthRatio:   c.Choices.LowHealthRatio,
	})

	if c.Reasoning.Enabled && len(rt.specialists) == 0 {
		logging.BootWarn("Deep reasoning enabled but no specialists configured")
	}
	if len(rt.specialists) > 0 {
		reasonTension, _ := narrative.ParseTension(c.Reasoning.TensionThreshold)
		rt.coordinator = reasoning.New(rt.specialists, rt.monitor, rt.memories, reasoning.Options{
			Timeout:          c.GetReasoningTimeout(),
			TensionThreshold: reasonTension,
			ThreadThreshold:  c.Reasoning.ThreadThreshold,
			Cap:              c.Choices.Cap,
		})
	}

	rt.controller = fallback.New(fallback.Deps{
		Primary:     rt.primary,
		Coordinator: rt.coordinator,
		Generator:   gen,
		Monitor:     rt.monitor,
		Memories:    rt.memories,
		Cache:       fallback.NewCache(c.GetCacheTTL(), c.Fallback.CacheCapacity, nil),
	}, fallback.SettingsFromConfig(c))
	return rt, nil
}

func (rt *runtime) buildAgents(ctx context.Context, c *config.Config, offlineMode bool) error {
	if offlineMode {
		rt.primary = agent.Meter(agent.NewScripted("primary"))
		if c.Reasoning.Enabled {
			rt.specialists = make(map[string]agent.Agent, len(c.Reasoning.Specialists))
			for _, name := range c.Reasoning.Specialists {
				rt.specialists[name] = agent.Meter(agent.NewScripted(name))
			}
		}
		return nil
	}

	primary, err := agent.New(ctx, "primary", c.Agents.Primary)
	if err != nil {
		return fmt.Errorf("primary agent: %w", err)
	}
	rt.primary = primary

	if c.Reasoning.Enabled {
		rt.specialists, err = agent.NewSpecialists(ctx, c.Reasoning.Specialists, c.Agents)
		if err != nil {
			return err
		}
	}
	return nil
}

// agents returns every agent, primary first.
func (rt *runtime) agents() []agent.Agent {
	out := []agent.Agent{rt.primary}
	if rt.coordinator != nil {
		for _, id := range rt.coordinator.Specialists() {
			out = append(out, rt.specialists[id])
		}
	}
	return out
}

// Close archives the memories when an archive is open.
func (rt *runtime) Close(ctx context.Context) error {
	if rt.archive == nil {
		return nil
	}
	defer rt.archive.Close()
	if err := rt.archive.SaveRegistry(ctx, rt.memories); err != nil {
		return fmt.Errorf("archive memories: %w", err)
	}
	logger.Debug("Memories archived", zap.String("path", rt.archive.Path()))
	return nil
}
