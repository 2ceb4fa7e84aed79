package evolve

import (
	"fmt"

	"github.com/satishbabariya/schema-evolution/internal/mutations"
)

// PurgeAppTask drops the tables of an app that is no longer registered.
type PurgeAppTask struct {
	taskBase
}

// NewPurgeAppTask creates a purge task for an app.
func NewPurgeAppTask(appLabel string) *PurgeAppTask {
	return &PurgeAppTask{taskBase: newTaskBase("purge-app:"+appLabel, appLabel)}
}

func (t *PurgeAppTask) String() string {
	return fmt.Sprintf("Purge application %q", t.appLabel)
}

func (t *PurgeAppTask) prepare(e *Evolver) error {
	t.canSimulate = true
	app := e.project.AppSig(t.appLabel)
	if app == nil {
		t.settle(false)
		return nil
	}

	mutator := mutations.NewAppMutator(t.appLabel, e.project, e.state, e.gen, e.database)
	if err := mutator.RunMutation(&mutations.DeleteApplication{}); err != nil {
		return err
	}
	if err := e.project.RemoveAppSig(app.AppID); err != nil {
		return err
	}
	t.sql = mutator.SQL()
	t.evolutionRequired = true
	t.settle(false)
	return nil
}
