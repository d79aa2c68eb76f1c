package resolver

// DisjointSet is a union-find forest over the handles 0..n-1. A negative parent entry
// marks a root and holds the negated size of its set.
type DisjointSet struct {
	parent []int
	sets   int
}

func NewDisjointSet(n int) *DisjointSet {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = -1
	}
	return &DisjointSet{parent: parent, sets: n}
}

// Len is the number of elements.
func (d *DisjointSet) Len() int { return len(d.parent) }

// Sets is the number of disjoint sets.
func (d *DisjointSet) Sets() int { return d.sets }

// Find returns the root of x, compressing the path it walked.
func (d *DisjointSet) Find(x int) int {
	root := x
	for d.parent[root] >= 0 {
		root = d.parent[root]
	}
	for d.parent[x] >= 0 {
		next := d.parent[x]
		d.parent[x] = root
		x = next
	}
	return root
}

// Union joins the sets of a and b, hanging the smaller tree under the larger.
// It reports whether the two were previously disjoint.
func (d *DisjointSet) Union(a, b int) bool {
	ra, rb := d.Find(a), d.Find(b)
	if ra == rb {
		return false
	}
	if d.parent[ra] > d.parent[rb] {
		ra, rb = rb, ra
	}
	d.parent[ra] += d.parent[rb]
	d.parent[rb] = ra
	d.sets--
	return true
}

func (d *DisjointSet) Connected(a, b int) bool {
	return d.Find(a) == d.Find(b)
}

// Size is the number of elements in the set containing x.
func (d *DisjointSet) Size(x int) int {
	return -d.parent[d.Find(x)]
}
