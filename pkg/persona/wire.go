package persona

import (
	"fmt"
	"log/slog"

	"github.com/nstogner/expertchat/pkg/domain"
	"github.com/nstogner/expertchat/pkg/model/gemini"
	"github.com/nstogner/expertchat/pkg/model/local"
)

// Backends holds what is needed to construct bridges for personas.
type Backends struct {
	// LocalURL is the endpoint of the local generation backend.
	LocalURL string
	// Gemini is nil when no API key is configured.
	Gemini *gemini.Client
}

// BindAll attaches a bridge to every persona that names a backend. Personas
// without a backend stay unsupported.
func (r *Registry) BindAll(b Backends) error {
	var localBridge *local.Bridge
	for _, p := range r.List() {
		switch p.Backend {
		case "":
			slog.Debug("Persona has no backend", "persona", p.ID)
			continue
		case domain.BackendLocal:
			if localBridge == nil {
				localBridge = local.New(b.LocalURL)
			}
			if err := r.Bind(p.ID, localBridge); err != nil {
				return err
			}
		case domain.BackendGemini:
			if b.Gemini == nil {
				return fmt.Errorf("persona %q uses the gemini backend but GEMINI_API_KEY is not set", p.ID)
			}
			if err := r.Bind(p.ID, b.Gemini.Bridge(p.Model, p.Instructions)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("persona %q: unknown backend %q", p.ID, p.Backend)
		}
		slog.Info("Bound persona", "persona", p.ID, "backend", p.Backend)
	}
	return nil
}
