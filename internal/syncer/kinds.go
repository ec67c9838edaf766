package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"signalsync/internal/database"
	"signalsync/internal/mapper"
	"signalsync/internal/models"
	"signalsync/internal/remote"
)

// ErrIdentityConflict means a document matched a local entity that is
// already linked to a different remote document.
var ErrIdentityConflict = errors.New("local entity is linked to another document")

// Kind is one synchronized entity type as the orchestrator sees it.
type Kind interface {
	Type() models.EntityType
	Collection() string
	// Category is the counter prefix, matching the remote collection family.
	Category() string
	Candidates(ctx context.Context, q *database.Queries, now time.Time) ([]pushPlan, error)
	Plan(ctx context.Context, q *database.Queries, id int64, now time.Time) (pushPlan, error)
	Reconcile(ctx context.Context, q *database.Queries, doc remote.Document, now time.Time) (reconciled, error)
	PullErrorCounter(err error) string
}

// pushPlan is a local entity mapped and ready for upsert.
type pushPlan struct {
	EntityID int64
	RemoteID *string
	Key      string
	Action   models.SyncAction
	Fields   remote.Fields
	Losses   mapper.Losses
}

// reconciled reports what a pulled document did to the local store.
type reconciled struct {
	EntityID int64
	Action   models.SyncAction
}

// entityKind is implemented once per entity type. The adapter turns it into a Kind.
type entityKind[T any] interface {
	Type() models.EntityType
	Collection() string
	Category() string
	candidates(ctx context.Context, q *database.Queries) ([]T, error)
	load(ctx context.Context, q *database.Queries, id int64) (T, error)
	identity(v T) (id int64, remoteID *string)
	defaultKey(v T) string
	toRemote(v T, now time.Time) (remote.Fields, mapper.Losses)
	locate(ctx context.Context, q *database.Queries, doc remote.Document) (T, bool, error)
	apply(ctx context.Context, q *database.Queries, v T, doc remote.Document, now time.Time) error
	create(ctx context.Context, q *database.Queries, doc remote.Document, now time.Time) (T, error)
	notFoundCounter() string
}

type kindAdapter[T any] struct {
	k entityKind[T]
}

func adapt[T any](k entityKind[T]) Kind {
	return kindAdapter[T]{k: k}
}

func (a kindAdapter[T]) Type() models.EntityType { return a.k.Type() }
func (a kindAdapter[T]) Collection() string { return a.k.Collection() }
func (a kindAdapter[T]) Category() string { return a.k.Category() }

func (a kindAdapter[T]) plan(v T, now time.Time) pushPlan {
	id, remoteID := a.k.identity(v)
	p := pushPlan{EntityID: id, RemoteID: remoteID, Action: models.ActionUpdate}
	if remoteID != nil && *remoteID != "" {
		p.Key = *remoteID
	} else {
		p.Key = a.k.defaultKey(v)
		p.Action = models.ActionCreate
	}
	p.Fields, p.Losses = a.k.toRemote(v, now)
	return p
}

func (a kindAdapter[T]) Candidates(ctx context.Context, q *database.Queries, now time.Time) ([]pushPlan, error) {
	list, err := a.k.candidates(ctx, q)
	if err != nil {
		return nil, err
	}
	plans := make([]pushPlan, 0, len(list))
	for _, v := range list {
		plans = append(plans, a.plan(v, now))
	}
	return plans, nil
}

func (a kindAdapter[T]) Plan(ctx context.Context, q *database.Queries, id int64, now time.Time) (pushPlan, error) {
	v, err := a.k.load(ctx, q, id)
	if err != nil {
		return pushPlan{}, err
	}
	return a.plan(v, now), nil
}

func (a kindAdapter[T]) Reconcile(ctx context.Context, q *database.Queries, doc remote.Document, now time.Time) (reconciled, error) {
	v, found, err := a.k.locate(ctx, q, doc)
	if err != nil {
		return reconciled{}, err
	}
	if found {
		id, remoteID := a.k.identity(v)
		if remoteID != nil && *remoteID != "" && doc.Key != "" && *remoteID != doc.Key {
			return reconciled{EntityID: id}, fmt.Errorf("%w: %s %d has %q, document is %q",
				ErrIdentityConflict, a.k.Type(), id, *remoteID, doc.Key)
		}
		if err := a.k.apply(ctx, q, v, doc, now); err != nil {
			return reconciled{EntityID: id}, err
		}
		return reconciled{EntityID: id, Action: models.ActionUpdate}, nil
	}
	created, err := a.k.create(ctx, q, doc, now)
	if err != nil {
		return reconciled{}, err
	}
	id, _ := a.k.identity(created)
	return reconciled{EntityID: id, Action: models.ActionCreate}, nil
}

func (a kindAdapter[T]) PullErrorCounter(err error) string {
	switch {
	case errors.Is(err, ErrNotCreatable):
		return a.k.notFoundCounter()
	case Classify(err) == CategoryValidation:
		return a.k.Category() + "_invalid_data"
	}
	return a.k.Category()
}

// locate finds the local row for doc by remote id, then by the numeric "id" it carries.
func locate[T any](
	ctx context.Context,
	doc remote.Document,
	byRemote func(context.Context, string) (T, error),
	byID func(context.Context, int64) (T, error),
) (T, bool, error) {
	var zero T
	if doc.Key != "" {
		v, err := byRemote(ctx, doc.Key)
		if err == nil {
			return v, true, nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			return zero, false, err
		}
	}
	id, ok, err := mapper.LocalID(doc.Fields)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := byID(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func orNil[T any](v *T, err error) (*T, error) {
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

type userKind struct{}

func (userKind) Type() models.EntityType { return models.EntityUser }
func (userKind) Collection() string { return "users" }
func (userKind) Category() string { return "users" }
func (userKind) notFoundCounter() string { return "users_not_found" }
func (userKind) defaultKey(u *models.User) string {
	return "user-" + strconv.FormatInt(u.ID, 10)
}

func (userKind) identity(u *models.User) (int64, *string) { return u.ID, u.RemoteID }

func (userKind) candidates(ctx context.Context, q *database.Queries) ([]*models.User, error) {
	return pointers(q.ListUnsyncedUsers(ctx))
}

func (userKind) load(ctx context.Context, q *database.Queries, id int64) (*models.User, error) {
	return q.GetUser(ctx, id)
}

func (userKind) toRemote(u *models.User, now time.Time) (remote.Fields, mapper.Losses) {
	return mapper.UserToRemote(*u, now)
}

func (userKind) locate(ctx context.Context, q *database.Queries, doc remote.Document) (*models.User, bool, error) {
	return locate(ctx, doc, q.GetUserByRemoteID, q.GetUser)
}

func (userKind) apply(ctx context.Context, q *database.Queries, u *models.User, doc remote.Document, now time.Time) error {
	updated, err := mapper.ApplyUserFields(*u, doc.Fields)
	if err != nil {
		return err
	}
	return q.UpdateUserFields(ctx, &updated, now)
}

// Accounts are created locally only; a remote user with no local match is reported.
func (userKind) create(context.Context, *database.Queries, remote.Document, time.Time) (*models.User, error) {
	return nil, fmt.Errorf("%w: user", ErrNotCreatable)
}

type signalementKind struct {
	defaultStatus string
}

func (signalementKind) Type() models.EntityType { return models.EntitySignalement }
func (signalementKind) Collection() string { return "signalements" }
func (signalementKind) Category() string { return "signalements" }
func (signalementKind) notFoundCounter() string { return "signalements_not_found" }
func (signalementKind) defaultKey(s *models.Signalement) string {
	return strconv.FormatInt(s.ID, 10)
}

func (signalementKind) identity(s *models.Signalement) (int64, *string) { return s.ID, s.RemoteID }

func (signalementKind) candidates(ctx context.Context, q *database.Queries) ([]*models.Signalement, error) {
	return pointers(q.ListUnsyncedSignalements(ctx))
}

func (signalementKind) load(ctx context.Context, q *database.Queries, id int64) (*models.Signalement, error) {
	return q.GetSignalement(ctx, id)
}

func (signalementKind) toRemote(s *models.Signalement, now time.Time) (remote.Fields, mapper.Losses) {
	return mapper.SignalementToRemote(*s, now)
}

func (signalementKind) locate(ctx context.Context, q *database.Queries, doc remote.Document) (*models.Signalement, bool, error) {
	return locate(ctx, doc, q.GetSignalementByRemoteID, q.GetSignalement)
}

// resolve looks up the rows the document references. The owner is only
// needed when creating, and a missing status code falls back to the
// default only when creating.
func (k signalementKind) resolve(ctx context.Context, q *database.Queries, f remote.Fields, creating bool) (mapper.Resolved, error) {
	var res mapper.Resolved
	refs, err := mapper.RefsOf(f)
	if err != nil {
		return res, err
	}
	if creating && refs.UserID != nil {
		if res.User, err = orNil(q.GetUser(ctx, *refs.UserID)); err != nil {
			return res, err
		}
	}
	code := ""
	if creating {
		code = refs.StatusCodeOr(k.defaultStatus)
	} else if refs.StatusCode != nil {
		code = *refs.StatusCode
	}
	if code != "" {
		if res.Status, err = orNil(q.GetStatusByCode(ctx, code)); err != nil {
			return res, err
		}
	}
	if refs.EntrepriseID != nil {
		if res.Entreprise, err = orNil(q.GetEntreprise(ctx, *refs.EntrepriseID)); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (k signalementKind) apply(ctx context.Context, q *database.Queries, s *models.Signalement, doc remote.Document, now time.Time) error {
	res, err := k.resolve(ctx, q, doc.Fields, false)
	if err != nil {
		return err
	}
	updated, err := mapper.ApplySignalementFields(*s, doc.Fields, res)
	if err != nil {
		return err
	}
	return q.UpdateSignalement(ctx, &updated, now)
}

func (k signalementKind) create(ctx context.Context, q *database.Queries, doc remote.Document, now time.Time) (*models.Signalement, error) {
	res, err := k.resolve(ctx, q, doc.Fields, true)
	if err != nil {
		return nil, err
	}
	s, err := mapper.BuildSignalement(doc.Fields, res, now)
	if err != nil {
		return nil, err
	}
	if err := q.InsertSignalement(ctx, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

type entrepriseKind struct{}

func (entrepriseKind) Type() models.EntityType { return models.EntityEntreprise }
func (entrepriseKind) Collection() string { return "entreprises" }
func (entrepriseKind) Category() string { return "entreprises" }
func (entrepriseKind) notFoundCounter() string { return "entreprises_not_found" }
func (entrepriseKind) defaultKey(e *models.Entreprise) string {
	return strconv.FormatInt(e.ID, 10)
}

func (entrepriseKind) identity(e *models.Entreprise) (int64, *string) { return e.ID, e.RemoteID }

// Entreprises are small reference data and are resent in full.
func (entrepriseKind) candidates(ctx context.Context, q *database.Queries) ([]*models.Entreprise, error) {
	return pointers(q.ListEntreprises(ctx))
}

func (entrepriseKind) load(ctx context.Context, q *database.Queries, id int64) (*models.Entreprise, error) {
	return q.GetEntreprise(ctx, id)
}

func (entrepriseKind) toRemote(e *models.Entreprise, now time.Time) (remote.Fields, mapper.Losses) {
	return mapper.EntrepriseToRemote(*e, now)
}

func (entrepriseKind) locate(ctx context.Context, q *database.Queries, doc remote.Document) (*models.Entreprise, bool, error) {
	return locate(ctx, doc, q.GetEntrepriseByRemoteID, q.GetEntreprise)
}

func (entrepriseKind) apply(ctx context.Context, q *database.Queries, e *models.Entreprise, doc remote.Document, now time.Time) error {
	updated, err := mapper.ApplyEntrepriseFields(*e, doc.Fields)
	if err != nil {
		return err
	}
	return q.UpdateEntreprise(ctx, &updated, now)
}

func (entrepriseKind) create(ctx context.Context, q *database.Queries, doc remote.Document, now time.Time) (*models.Entreprise, error) {
	e, err := mapper.BuildEntreprise(doc.Fields, now)
	if err != nil {
		return nil, err
	}
	if err := q.InsertEntreprise(ctx, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

type statusKind struct{}

func (statusKind) Type() models.EntityType { return models.EntitySignalementStatus }
func (statusKind) Collection() string { return "signalement_status" }
func (statusKind) Category() string { return "status" }
func (statusKind) notFoundCounter() string { return "status_not_found" }
func (statusKind) defaultKey(s *models.SignalementStatus) string {
	return s.Code
}

func (statusKind) identity(s *models.SignalementStatus) (int64, *string) { return s.ID, s.RemoteID }

func (statusKind) candidates(ctx context.Context, q *database.Queries) ([]*models.SignalementStatus, error) {
	return pointers(q.ListStatuses(ctx))
}

func (statusKind) load(ctx context.Context, q *database.Queries, id int64) (*models.SignalementStatus, error) {
	return q.GetStatus(ctx, id)
}

func (statusKind) toRemote(s *models.SignalementStatus, now time.Time) (remote.Fields, mapper.Losses) {
	return mapper.StatusToRemote(*s, now)
}

// A status document is keyed by its code, so the code is tried last.
func (statusKind) locate(ctx context.Context, q *database.Queries, doc remote.Document) (*models.SignalementStatus, bool, error) {
	s, found, err := locate(ctx, doc, q.GetStatusByRemoteID, q.GetStatus)
	if err != nil || found {
		return s, found, err
	}
	code, _ := doc.Fields["code"].(string)
	if code == "" {
		code = doc.Key
	}
	if code == "" {
		return nil, false, nil
	}
	s, err = q.GetStatusByCode(ctx, code)
	if errors.Is(err, database.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func (statusKind) apply(ctx context.Context, q *database.Queries, s *models.SignalementStatus, doc remote.Document, now time.Time) error {
	updated, err := mapper.ApplyStatusFields(*s, doc.Fields)
	if err != nil {
		return err
	}
	return q.UpdateStatus(ctx, &updated, now)
}

// The status catalogue is seeded locally; unknown codes are not imported.
func (statusKind) create(context.Context, *database.Queries, remote.Document, time.Time) (*models.SignalementStatus, error) {
	return nil, fmt.Errorf("%w: status", ErrNotCreatable)
}

func pointers[T any](list []T, err error) ([]*T, error) {
	if err != nil {
		return nil, err
	}
	out := make([]*T, len(list))
	for i := range list {
		out[i] = &list[i]
	}
	return out, nil
}

// defaultKinds returns the synchronized kinds in push order.
func defaultKinds(defaultStatus string) []Kind {
	return []Kind{
		adapt[*models.User](userKind{}),
		adapt[*models.Signalement](signalementKind{defaultStatus: defaultStatus}),
		adapt[*models.Entreprise](entrepriseKind{}),
		adapt[*models.SignalementStatus](statusKind{}),
	}
}

// pullOrder puts referenced types before the types pointing at them.
var pullOrder = []models.EntityType{
	models.EntitySignalementStatus,
	models.EntityEntreprise,
	models.EntityUser,
	models.EntitySignalement,
}
