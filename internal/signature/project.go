package signature

// ProjectSignature is the root snapshot of every app's schema.
type ProjectSignature struct {
	// Version is the format the signature was loaded from, or
	// LatestVersion for a new one. Serialize is told the format to write.
	Version int

	appOrder []string
	apps     map[string]*AppSignature
}

// NewProjectSignature creates an empty project signature.
func NewProjectSignature() *ProjectSignature {
	return &ProjectSignature{Version: LatestVersion, apps: make(map[string]*AppSignature)}
}

// AddAppSig adds an app, replacing any app with the same ID in place.
func (p *ProjectSignature) AddAppSig(a *AppSignature) {
	if p.apps == nil {
		p.apps = make(map[string]*AppSignature)
	}
	if _, ok := p.apps[a.AppID]; !ok {
		p.appOrder = append(p.appOrder, a.AppID)
	}
	p.apps[a.AppID] = a
}

// RemoveAppSig removes an app by ID.
func (p *ProjectSignature) RemoveAppSig(appID string) error {
	if _, ok := p.apps[appID]; !ok {
		return &MissingSignatureError{Kind: "app", Name: appID}
	}
	delete(p.apps, appID)
	for i, id := range p.appOrder {
		if id == appID {
			p.appOrder = append(p.appOrder[:i:i], p.appOrder[i+1:]...)
			break
		}
	}
	return nil
}

// AppSig looks up an app by ID, falling back to a matching legacy label.
// It returns nil when nothing matches.
func (p *ProjectSignature) AppSig(appID string) *AppSignature {
	if a, ok := p.apps[appID]; ok {
		return a
	}
	for _, id := range p.appOrder {
		if a := p.apps[id]; a.LegacyAppLabel == appID {
			return a
		}
	}
	return nil
}

// RequiredAppSig is AppSig that fails with a MissingSignatureError.
func (p *ProjectSignature) RequiredAppSig(appID string) (*AppSignature, error) {
	a := p.AppSig(appID)
	if a == nil {
		return nil, &MissingSignatureError{Kind: "app", Name: appID}
	}
	return a, nil
}

// ModelSig returns a model by app ID and name, or nil.
func (p *ProjectSignature) ModelSig(appID, modelName string) *ModelSignature {
	a := p.AppSig(appID)
	if a == nil {
		return nil
	}
	return a.ModelSig(modelName)
}

// RequiredModelSig is ModelSig that fails with a MissingSignatureError.
func (p *ProjectSignature) RequiredModelSig(appID, modelName string) (*ModelSignature, error) {
	a, err := p.RequiredAppSig(appID)
	if err != nil {
		return nil, err
	}
	return a.RequiredModelSig(modelName)
}

// ModelSigByRef resolves an "app.Model" reference.
func (p *ProjectSignature) ModelSigByRef(ref string) *ModelSignature {
	appID, modelName := SplitModelRef(ref)
	return p.ModelSig(appID, modelName)
}

// AppSigs returns apps in insertion order.
func (p *ProjectSignature) AppSigs() []*AppSignature {
	out := make([]*AppSignature, 0, len(p.appOrder))
	for _, id := range p.appOrder {
		out = append(out, p.apps[id])
	}
	return out
}

// AppIDs returns app IDs in insertion order.
func (p *ProjectSignature) AppIDs() []string {
	return append([]string(nil), p.appOrder...)
}

// RelatedField is a field that references another model.
type RelatedField struct {
	AppID string
	Model *ModelSignature
	Field *FieldSignature
}

// FieldsReferencing returns every relation field in the project pointing at
// the given "app.Model" reference, in app, model and field order.
func (p *ProjectSignature) FieldsReferencing(ref string) []RelatedField {
	var out []RelatedField
	for _, app := range p.AppSigs() {
		for _, model := range app.ModelSigs() {
			for _, field := range model.FieldSigs() {
				if field.FieldType.IsRelation() && field.RelatedModel == ref {
					out = append(out, RelatedField{AppID: app.AppID, Model: model, Field: field})
				}
			}
		}
	}
	return out
}

// Clone returns a deep copy.
func (p *ProjectSignature) Clone() *ProjectSignature {
	c := NewProjectSignature()
	c.Version = p.Version
	for _, a := range p.AppSigs() {
		c.AddAppSig(a.Clone())
	}
	return c
}

// Equal compares two project signatures structurally.
func (p *ProjectSignature) Equal(other *ProjectSignature) bool {
	if p == nil || other == nil {
		return p == other
	}
	if len(p.apps) != len(other.apps) {
		return false
	}
	for id, a := range p.apps {
		if !a.Equal(other.apps[id]) {
			return false
		}
	}
	return true
}
