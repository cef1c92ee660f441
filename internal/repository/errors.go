package repository

import "errors"

var ErrNotFound = errors.New("not found")

// 一意制約違反（payment_id / idempotency_key）
var ErrDuplicate = errors.New("duplicate")
