package handlers

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/princevash/openclaw-mt/internal/rpc"
)

// skillRecord is one installable skill, persisted in skills.json under the
// caller's state tree.
type skillRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source,omitempty"`
	Disabled    bool      `json:"disabled,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func skillsPath(deps Deps, req *rpc.Request) string {
	if req.Tenant != nil {
		return filepath.Join(req.Tenant.StateDir, "skills.json")
	}
	return filepath.Join(deps.Config.StateDir, "skills.json")
}

func loadSkills(path string) (map[string]*skillRecord, *rpc.Error) {
	skills := map[string]*skillRecord{}
	if _, err := readJSONFile(path, &skills); err != nil {
		return nil, rpc.Unavailable("failed to read skills: " + err.Error())
	}
	return skills, nil
}

const skillIDSchema = `{
	"type": "object",
	"required": ["skillId"],
	"properties": {"skillId": {"type": "string", "minLength": 1}}
}`

func registerSkillMethods(d *rpc.Dispatcher, deps Deps) {
	d.Register("skills.list", rpc.MethodSpec{
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			skills, rpcErr := loadSkills(skillsPath(deps, req))
			if rpcErr != nil {
				return nil, rpcErr
			}
			out := make([]*skillRecord, 0, len(skills))
			for _, s := range skills {
				out = append(out, s)
			}
			sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
			return map[string]any{"skills": out}, nil
		},
	})

	d.Register("skills.get", rpc.MethodSpec{
		ParamsSchema: skillIDSchema,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				SkillID string `json:"skillId"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			skills, rpcErr := loadSkills(skillsPath(deps, req))
			if rpcErr != nil {
				return nil, rpcErr
			}
			skill, ok := skills[params.SkillID]
			if !ok {
				return nil, rpc.NotFound("skill not found")
			}
			return skill, nil
		},
	})

	d.Register("skills.add", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["skillId"],
			"properties": {
				"skillId": {"type": "string", "minLength": 1},
				"name": {"type": "string"},
				"description": {"type": "string"},
				"source": {"type": "string"},
				"disabled": {"type": "boolean"}
			}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				SkillID     string `json:"skillId"`
				Name        string `json:"name"`
				Description string `json:"description"`
				Source      string `json:"source"`
				Disabled    bool   `json:"disabled"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}

			path := skillsPath(deps, req)
			skills, rpcErr := loadSkills(path)
			if rpcErr != nil {
				return nil, rpcErr
			}
			if _, exists := skills[params.SkillID]; exists {
				return nil, rpc.InvalidRequest("skill already exists: " + params.SkillID)
			}

			now := time.Now().UTC()
			skill := &skillRecord{
				ID:          params.SkillID,
				Name:        params.Name,
				Description: params.Description,
				Source:      params.Source,
				Disabled:    params.Disabled,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			skills[params.SkillID] = skill
			if err := writeJSONFile(path, skills); err != nil {
				return nil, rpc.Unavailable("failed to write skills: " + err.Error())
			}
			return skill, nil
		},
	})

	d.Register("skills.update", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["skillId"],
			"properties": {
				"skillId": {"type": "string", "minLength": 1},
				"name": {"type": "string"},
				"description": {"type": "string"},
				"source": {"type": "string"},
				"disabled": {"type": "boolean"}
			}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				SkillID     string  `json:"skillId"`
				Name        *string `json:"name"`
				Description *string `json:"description"`
				Source      *string `json:"source"`
				Disabled    *bool   `json:"disabled"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}

			path := skillsPath(deps, req)
			skills, rpcErr := loadSkills(path)
			if rpcErr != nil {
				return nil, rpcErr
			}
			skill, ok := skills[params.SkillID]
			if !ok {
				return nil, rpc.NotFound("skill not found")
			}

			if params.Name != nil {
				skill.Name = *params.Name
			}
			if params.Description != nil {
				skill.Description = *params.Description
			}
			if params.Source != nil {
				skill.Source = *params.Source
			}
			if params.Disabled != nil {
				skill.Disabled = *params.Disabled
			}
			skill.UpdatedAt = time.Now().UTC()

			if err := writeJSONFile(path, skills); err != nil {
				return nil, rpc.Unavailable("failed to write skills: " + err.Error())
			}
			return skill, nil
		},
	})

	d.Register("skills.remove", rpc.MethodSpec{
		ParamsSchema: skillIDSchema,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				SkillID string `json:"skillId"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}

			path := skillsPath(deps, req)
			skills, rpcErr := loadSkills(path)
			if rpcErr != nil {
				return nil, rpcErr
			}
			if _, ok := skills[params.SkillID]; !ok {
				return nil, rpc.NotFound("skill not found")
			}
			delete(skills, params.SkillID)
			if err := writeJSONFile(path, skills); err != nil {
				return nil, rpc.Unavailable("failed to write skills: " + err.Error())
			}
			return map[string]bool{"removed": true}, nil
		},
	})
}
