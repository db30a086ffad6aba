package utils

import (
	"path/filepath"

	"github.com/emirpasic/gods/sets"
	"github.com/emirpasic/gods/sets/hashset"
)

func List2set[T any](list []T) sets.Set {
	set := hashset.New()
	for _, value := range list {
		set.Add(value)
	}
	return set
}

// PathSet 将路径列表清洗后转为集合，便于判断文件是否属于工作区
func PathSet(paths []string) sets.Set {
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		cleaned = append(cleaned, filepath.Clean(p))
	}
	return List2set(cleaned)
}
