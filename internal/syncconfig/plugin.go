package syncconfig

import (
	"encoding/json"
	"log/slog"
	"path"
	"slices"
)

// Plugin is the upstream plugin's state as recorded in the host config dir.
type Plugin struct {
	ID        string `json:"id"`
	Installed bool   `json:"installed"`
	Enabled   bool   `json:"enabled"`
	Version   string `json:"version,omitempty"`
}

// Available reports whether upstream is installed and switched on.
func (p Plugin) Available() bool {
	return p.Installed && p.Enabled
}

// Plugin inspects the host config dir: a manifest under plugins/<id> means
// installed, a listing in community-plugins.json means enabled. Read errors
// count as absent.
func (r *Reader) Plugin() Plugin {
	p := Plugin{ID: r.pluginID}

	manifest := path.Join(r.configDir, "plugins", r.pluginID, "manifest.json")
	if data, ok := r.readOptional(manifest); ok {
		p.Installed = true
		var m struct {
			Version string `json:"version"`
		}
		if err := json.Unmarshal(data, &m); err == nil {
			p.Version = m.Version
		}
	}

	if data, ok := r.readOptional(path.Join(r.configDir, "community-plugins.json")); ok {
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			r.logger.Warn("syncconfig: bad community-plugins.json", slog.String("error", err.Error()))
		}
		p.Enabled = slices.Contains(ids, r.pluginID)
	}
	return p
}

func (r *Reader) readOptional(p string) ([]byte, bool) {
	ok, err := r.adapter.Exists(p)
	if err != nil || !ok {
		return nil, false
	}
	data, err := r.adapter.Read(p)
	if err != nil {
		return nil, false
	}
	return data, true
}
