// Package registry describes the models an installation currently defines
// and builds the target project signature from them.
package registry

import (
	"github.com/satishbabariya/schema-evolution/internal/signature"
	"github.com/satishbabariya/schema-evolution/internal/sqlgen"
)

// Registry answers questions about the currently registered models.
type Registry interface {
	// AppLabels returns the registered apps in declaration order.
	AppLabels() []string
	// AppSignature builds the signature of one app's models.
	AppSignature(appLabel string) (*signature.AppSignature, error)
	// ProjectSignature builds the signature of every registered app.
	ProjectSignature() (*signature.ProjectSignature, error)
	// AppsForTable returns the apps that register a model stored in table.
	AppsForTable(table string) []string
	// InitialValue returns the default used to fill existing rows for a
	// field, if the model declares one.
	InitialValue(appLabel, modelName, fieldName string) (*sqlgen.Initial, bool)
}
