package orders

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateCourseAccess grants userID access to courseID. At most one grant
// exists per (user, course); a repeated call returns created=false.
func (r *Repo) CreateCourseAccess(ctx context.Context, userID, courseID, orderRef string) (bool, error) {
	var existing string
	err := r.DB.QueryRow(ctx, `SELECT id FROM course_access WHERE user_id=$1 AND course_id=$2`, userID, courseID).Scan(&existing)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}

	progress, _ := json.Marshal(Progress{CompletedLessons: []string{}})
	// the unique constraint covers two grants racing past the lookup above
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO course_access(id, user_id, course_id, order_ref, progress)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, course_id) DO NOTHING`,
		uuid.NewString(), userID, courseID, orderRef, progress)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) GetCourseAccess(ctx context.Context, userID, courseID string) (*CourseAccess, error) {
	var (
		a        CourseAccess
		progress []byte
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, course_id, order_ref, progress, created_at
		FROM course_access WHERE user_id=$1 AND course_id=$2`, userID, courseID).
		Scan(&a.ID, &a.UserID, &a.CourseID, &a.OrderRef, &progress, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(progress, &a.Progress); err != nil {
		return nil, err
	}
	return &a, nil
}
