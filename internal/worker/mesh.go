package worker

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// MeshStats STL 模型几何统计
type MeshStats struct {
	Triangles  int
	VolumeMM3  float64
	VolumeCM3  float64
	BoundsMin  [3]float64
	BoundsMax  [3]float64
	Degenerate bool // 体积无法计算，已回退到最小值
}

const (
	binaryHeaderSize   = 80
	binaryTriangleSize = 50

	// 体积为零或无效时的回退值，避免报出零价
	fallbackVolumeCM3 = 1.0

	// 经验公式：打印耗时 ≈ 体积(mm3)/15 + 固定准备时间 300s
	printSpeedMM3PerSec = 15.0
	printSetupSeconds   = 300
)

// AnalyzeSTL 解析 STL 文件并计算体积与包围盒，自动识别二进制/ASCII 格式
func AnalyzeSTL(path string) (*MeshStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stl: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat stl: %w", err)
	}

	isBinary, err := isBinarySTL(f, info.Size())
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var stats *MeshStats
	if isBinary {
		stats, err = parseBinarySTL(f)
	} else {
		stats, err = parseASCIISTL(f)
	}
	if err != nil {
		return nil, err
	}

	finalizeStats(stats)
	return stats, nil
}

// EstimatePrintTime 根据体积估算打印耗时（秒）
func EstimatePrintTime(volumeMM3 float64) int {
	return int(volumeMM3/printSpeedMM3PerSec) + printSetupSeconds
}

// isBinarySTL 通过三角形数量与文件大小的一致性判断格式。
// ASCII 文件也可能以 "solid" 开头，不能只看前缀。
func isBinarySTL(f *os.File, size int64) (bool, error) {
	if size < binaryHeaderSize+4 {
		return false, nil
	}

	header := make([]byte, binaryHeaderSize+4)
	if _, err := io.ReadFull(f, header); err != nil {
		return false, fmt.Errorf("read stl header: %w", err)
	}

	count := binary.LittleEndian.Uint32(header[binaryHeaderSize:])
	expected := int64(binaryHeaderSize) + 4 + int64(count)*binaryTriangleSize
	return expected == size, nil
}

func parseBinarySTL(r io.Reader) (*MeshStats, error) {
	br := bufio.NewReader(r)
	if _, err := io.CopyN(io.Discard, br, binaryHeaderSize); err != nil {
		return nil, fmt.Errorf("skip stl header: %w", err)
	}

	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read triangle count: %w", err)
	}

	stats := newMeshStats()
	buf := make([]byte, binaryTriangleSize)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("read triangle %d: %w", i, err)
		}

		// 跳过法向量（前 12 字节），只取三个顶点
		var tri [3][3]float64
		for v := 0; v < 3; v++ {
			for c := 0; c < 3; c++ {
				offset := 12 + v*12 + c*4
				bits := binary.LittleEndian.Uint32(buf[offset : offset+4])
				tri[v][c] = float64(math.Float32frombits(bits))
			}
		}
		accumulate(stats, tri)
	}

	return stats, nil
}

func parseASCIISTL(r io.Reader) (*MeshStats, error) {
	stats := newMeshStats()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var tri [3][3]float64
	vertexIdx := 0

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[0] != "vertex" {
			continue
		}

		for c := 0; c < 3; c++ {
			val, err := strconv.ParseFloat(fields[c+1], 64)
			if err != nil {
				return nil, fmt.Errorf("parse vertex: %w", err)
			}
			tri[vertexIdx][c] = val
		}

		vertexIdx++
		if vertexIdx == 3 {
			accumulate(stats, tri)
			vertexIdx = 0
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan stl: %w", err)
	}

	return stats, nil
}

func newMeshStats() *MeshStats {
	return &MeshStats{
		BoundsMin: [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)},
		BoundsMax: [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)},
	}
}

// accumulate 累加一个三角形的有号四面体体积并更新包围盒
func accumulate(stats *MeshStats, tri [3][3]float64) {
	stats.Triangles++

	v0, v1, v2 := tri[0], tri[1], tri[2]
	stats.VolumeMM3 += signedTetraVolume(v0, v1, v2)

	for _, v := range tri {
		for c := 0; c < 3; c++ {
			if v[c] < stats.BoundsMin[c] {
				stats.BoundsMin[c] = v[c]
			}
			if v[c] > stats.BoundsMax[c] {
				stats.BoundsMax[c] = v[c]
			}
		}
	}
}

// signedTetraVolume 原点到三角形构成的四面体有号体积。
// 封闭网格的各三角形有号体积之和即实体体积。
func signedTetraVolume(v0, v1, v2 [3]float64) float64 {
	return (v0[0]*(v1[1]*v2[2]-v1[2]*v2[1]) +
		v0[1]*(v1[2]*v2[0]-v1[0]*v2[2]) +
		v0[2]*(v1[0]*v2[1]-v1[1]*v2[0])) / 6.0
}

func finalizeStats(stats *MeshStats) {
	stats.VolumeMM3 = math.Abs(stats.VolumeMM3)
	stats.VolumeCM3 = stats.VolumeMM3 / 1000.0

	// 网格退化（不封闭、零体积、NaN）时回退到 1cm3，保证始终能给出报价
	if stats.Triangles == 0 || stats.VolumeCM3 <= 0 || math.IsNaN(stats.VolumeCM3) || math.IsInf(stats.VolumeCM3, 0) {
		stats.VolumeCM3 = fallbackVolumeCM3
		stats.VolumeMM3 = fallbackVolumeCM3 * 1000
		stats.Degenerate = true
	}
}
