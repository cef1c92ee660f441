package model

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// 明細IDの配列をJSONカラムにする
func EncodeItemIDs(ids []int64) datatypes.JSON {
	if ids == nil {
		ids = []int64{}
	}
	b, _ := json.Marshal(ids)
	return datatypes.JSON(b)
}

func DecodeItemIDs(raw datatypes.JSON) ([]int64, error) {
	if len(raw) == 0 {
		return []int64{}, nil
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
