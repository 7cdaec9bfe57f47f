package worker

import (
	"archive/zip"
	"bufio"
	"fmt"
	"path"
	"strings"
)

// metadataFiles .3mf 包内关注的配置文件，键为存入元数据的名称
var metadataFiles = map[string]string{
	"slice_info":       "Metadata/slice_info.config",
	"project_settings": "Metadata/project_settings.config",
}

// ExtractSliceMetadata 从 .3mf 切片包中提取配置元数据。
// .3mf 本质是 ZIP，配置文件为 key = value 逐行格式。
// 缺失个别配置文件不算错误，只有包本身无法打开才返回错误。
func ExtractSliceMetadata(slicedPath string) (map[string]map[string]string, error) {
	reader, err := zip.OpenReader(slicedPath)
	if err != nil {
		return nil, fmt.Errorf("open 3mf: %w", err)
	}
	defer reader.Close()

	byName := make(map[string]*zip.File, len(reader.File))
	for _, f := range reader.File {
		byName[path.Clean(f.Name)] = f
	}

	metadata := make(map[string]map[string]string)
	for key, name := range metadataFiles {
		f, ok := byName[path.Clean(name)]
		if !ok {
			continue
		}

		entries, err := parseConfigEntries(f)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		if len(entries) > 0 {
			metadata[key] = entries
		}
	}

	return metadata, nil
}

func parseConfigEntries(f *zip.File) (map[string]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	entries := make(map[string]string)
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}

		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key != "" {
			entries[key] = value
		}
	}

	return entries, scanner.Err()
}
