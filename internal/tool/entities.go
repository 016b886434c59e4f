package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quivermind/mnemo/internal/docstore"
	"github.com/quivermind/mnemo/internal/fault"
)

// CollectionEntities holds projects and tasks. Episodic events may point
// at these ids; that reference is opaque to the memory tiers.
const CollectionEntities = "entities"

// Task and project statuses.
const (
	StatusActive = "active"
	StatusDone   = "done"
)

// Project is a container for tasks.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is one unit of work, optionally attached to a project.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ProjectID string    `json:"project_id,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Entities is the project/task CRUD layer behind the entity tools.
type Entities struct {
	docs docstore.Store
}

// NewEntities wires the entity layer to the durable store.
func NewEntities(docs docstore.Store) *Entities {
	return &Entities{docs: docs}
}

func (e *Entities) CreateProject(ctx context.Context, owner, name string) (*Project, error) {
	if name == "" {
		return nil, fault.Validation("project name must not be empty")
	}
	doc := &docstore.Document{
		Collection: CollectionEntities,
		OwnerID:    owner,
		Body: map[string]interface{}{
			"entity": "project",
			"name":   name,
			"status": StatusActive,
		},
		Text: "project " + name,
	}
	if err := e.docs.Insert(ctx, doc); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return &Project{ID: doc.ID, Name: name, Status: StatusActive, CreatedAt: doc.CreatedAt}, nil
}

func (e *Entities) CreateTask(ctx context.Context, owner, projectID, title string) (*Task, error) {
	if title == "" {
		return nil, fault.Validation("task title must not be empty")
	}
	body := map[string]interface{}{
		"entity": "task",
		"title":  title,
		"status": StatusActive,
	}
	if projectID != "" {
		body["project_id"] = projectID
	}
	doc := &docstore.Document{
		Collection: CollectionEntities,
		OwnerID:    owner,
		Body:       body,
		Text:       "task " + title,
	}
	if err := e.docs.Insert(ctx, doc); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &Task{ID: doc.ID, Title: title, ProjectID: projectID,
		Status: StatusActive, CreatedAt: doc.CreatedAt}, nil
}

// CompleteTask marks a task done, retrying once if a concurrent update
// wins the first race.
func (e *Entities) CompleteTask(ctx context.Context, owner, taskID string) (*Task, error) {
	for attempt := 0; attempt < 2; attempt++ {
		docs, err := e.docs.Find(ctx, docstore.Filter{
			Collection: CollectionEntities,
			OwnerID:    owner,
			IDs:        []string{taskID},
		}, docstore.Sort{}, 1)
		if err != nil {
			return nil, fmt.Errorf("complete task: %w", err)
		}
		if len(docs) == 0 {
			return nil, fault.ErrNotFound
		}
		doc := docs[0]
		if doc.Body["entity"] != "task" {
			return nil, fault.Validation("%s is not a task", taskID)
		}
		doc.Body["status"] = StatusDone
		err = e.docs.Update(ctx, doc)
		if err == nil {
			return taskFromDoc(doc), nil
		}
		if !errors.Is(err, fault.ErrConflict) {
			return nil, fmt.Errorf("complete task: %w", err)
		}
	}
	return nil, fault.ErrConflict
}

// ListTasks returns the owner's tasks, optionally filtered by status or
// project, newest first.
func (e *Entities) ListTasks(ctx context.Context, owner, status, projectID string) ([]*Task, error) {
	equals := map[string]interface{}{"entity": "task"}
	if status != "" {
		equals["status"] = status
	}
	if projectID != "" {
		equals["project_id"] = projectID
	}
	docs, err := e.docs.Find(ctx, docstore.Filter{
		Collection: CollectionEntities,
		OwnerID:    owner,
		Equals:     equals,
	}, docstore.Sort{CreatedDesc: true}, 0)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks := make([]*Task, len(docs))
	for i, d := range docs {
		tasks[i] = taskFromDoc(d)
	}
	return tasks, nil
}

// ListProjects returns the owner's projects, newest first.
func (e *Entities) ListProjects(ctx context.Context, owner string) ([]*Project, error) {
	docs, err := e.docs.Find(ctx, docstore.Filter{
		Collection: CollectionEntities,
		OwnerID:    owner,
		Equals:     map[string]interface{}{"entity": "project"},
	}, docstore.Sort{CreatedDesc: true}, 0)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	projects := make([]*Project, len(docs))
	for i, d := range docs {
		p := &Project{ID: d.ID, Status: StatusActive, CreatedAt: d.CreatedAt}
		if v, ok := d.Body["name"].(string); ok {
			p.Name = v
		}
		if v, ok := d.Body["status"].(string); ok {
			p.Status = v
		}
		projects[i] = p
	}
	return projects, nil
}

func taskFromDoc(d *docstore.Document) *Task {
	t := &Task{ID: d.ID, CreatedAt: d.CreatedAt}
	if v, ok := d.Body["title"].(string); ok {
		t.Title = v
	}
	if v, ok := d.Body["status"].(string); ok {
		t.Status = v
	}
	if v, ok := d.Body["project_id"].(string); ok {
		t.ProjectID = v
	}
	return t
}
