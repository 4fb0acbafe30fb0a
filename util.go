package wrpc

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/pborman/uuid"
)

// NewConnID 连接标识（adapter 的 socket identity 等，不是关联id）
func NewConnID() string {
	now := time.Now().UnixNano() / int64(time.Millisecond)
	_uuid := uuid.NewRandom().Array()
	return strconv.FormatInt(now, 36) + "-" + hex.EncodeToString(_uuid[8:])
}
